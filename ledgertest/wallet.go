package ledgertest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"skillendorse/account"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/msp"
)

// DefaultMSPID is the MSP assigned to wallets created by NewWallet.
const DefaultMSPID = "Org1MSP"

// Wallet is a throwaway signing identity: a self-signed P-256 certificate and
// its key, plus the serialized creator the chaincode sees.
type Wallet struct {
	Account     string
	MSPID       string
	Certificate *x509.Certificate
	CertPEM     []byte
	KeyPEM      []byte

	creator []byte
}

// NewWallet generates a fresh identity named commonName.
func NewWallet(commonName string) (*Wallet, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Org1"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	acct, err := account.FromCertificate(cert)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	creator, err := proto.Marshal(&msp.SerializedIdentity{Mspid: DefaultMSPID, IdBytes: certPEM})
	if err != nil {
		return nil, fmt.Errorf("serialize identity: %w", err)
	}
	return &Wallet{
		Account:     acct,
		MSPID:       DefaultMSPID,
		Certificate: cert,
		CertPEM:     certPEM,
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		creator:     creator,
	}, nil
}

// MustWallet is NewWallet that panics, for test setup.
func MustWallet(commonName string) *Wallet {
	w, err := NewWallet(commonName)
	if err != nil {
		panic(err)
	}
	return w
}

// Creator is the serialized identity the chaincode sees as the transaction
// creator.
func (w *Wallet) Creator() []byte {
	return append([]byte(nil), w.creator...)
}
