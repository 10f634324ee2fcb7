// Package fabricgw binds a gateway.Session to a Fabric peer through the
// Fabric Gateway client.
package fabricgw

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"skillendorse/account"
	"skillendorse/gateway"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/hyperledger/fabric/common/flogging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var logger = flogging.MustGetLogger("skillendorse.fabricgw")

// Connection owns the gRPC connection and gateway behind a Session.
type Connection struct {
	Session *gateway.Session

	conn *grpc.ClientConn
	gw   *client.Gateway
}

// Close releases the gateway and its gRPC connection.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.gw != nil {
		errs = append(errs, c.gw.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// Connect loads the wallet, dials the peer over TLS and binds the manager and
// token contracts. The Session's Account is derived from the wallet certificate.
func Connect(opts gateway.ConnectOptions) (*Connection, error) {
	certPEM, err := readPEM(opts.CertPath)
	if err != nil {
		return nil, fmt.Errorf("Connect: read certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("Connect: parse certificate: %w", err)
	}
	acct, err := account.FromCertificate(cert)
	if err != nil {
		return nil, fmt.Errorf("Connect: derive account: %w", err)
	}
	id, err := identity.NewX509Identity(opts.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("Connect: build identity: %w", err)
	}

	keyPEM, err := readPEM(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("Connect: read private key: %w", err)
	}
	privateKey, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("Connect: parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, fmt.Errorf("Connect: build signer: %w", err)
	}

	conn, err := dial(opts)
	if err != nil {
		return nil, err
	}
	gw, err := client.Connect(id, connectOptions(opts, sign, conn)...)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("Connect: gateway: %w", err)
	}

	network := gw.GetNetwork(opts.Channel)
	sess := &gateway.Session{
		Account: acct,
		Manager: &contract{contract: network.GetContractWithName(opts.Chaincode, opts.ManagerContract)},
		Token:   &contract{contract: network.GetContractWithName(opts.Chaincode, opts.TokenContract)},
	}
	logger.Infof("Connected to %s as %s (%s) on channel '%s'", opts.PeerEndpoint, acct, opts.MSPID, opts.Channel)
	return &Connection{Session: sess, conn: conn, gw: gw}, nil
}

func connectOptions(opts gateway.ConnectOptions, sign identity.Sign, conn *grpc.ClientConn) []client.ConnectOption {
	options := []client.ConnectOption{
		client.WithSign(sign),
		client.WithClientConnection(conn),
	}
	// Unset timeouts keep the gateway defaults.
	if opts.EvaluateTimeout > 0 {
		options = append(options, client.WithEvaluateTimeout(opts.EvaluateTimeout))
	}
	if opts.EndorseTimeout > 0 {
		options = append(options, client.WithEndorseTimeout(opts.EndorseTimeout))
	}
	if opts.SubmitTimeout > 0 {
		options = append(options, client.WithSubmitTimeout(opts.SubmitTimeout))
	}
	if opts.CommitTimeout > 0 {
		options = append(options, client.WithCommitStatusTimeout(opts.CommitTimeout))
	}
	return options
}

func dial(opts gateway.ConnectOptions) (*grpc.ClientConn, error) {
	tlsPEM, err := readPEM(opts.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("Connect: read TLS certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("Connect: parse TLS certificate: %w", err)
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(tlsCert)
	creds := credentials.NewClientTLSFromCert(certPool, opts.PeerHostOverride)

	conn, err := grpc.Dial(opts.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("Connect: dial %s: %w", opts.PeerEndpoint, err)
	}
	return conn, nil
}

// readPEM reads a file, or the first file of a directory as laid out by
// Fabric CA keystores and signcerts folders.
func readPEM(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return os.ReadFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			return os.ReadFile(filepath.Join(path, e.Name()))
		}
	}
	return nil, fmt.Errorf("no files in directory %s", path)
}

// contract adapts a gateway contract to gateway.Transactor.
type contract struct {
	contract *client.Contract
}

func (c *contract) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	proposal, err := c.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return nil, err
	}
	result, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return nil, withDetails(err)
	}
	return result, nil
}

func (c *contract) Submit(ctx context.Context, fn string, args ...string) (gateway.PendingTx, error) {
	proposal, err := c.contract.NewProposal(fn, client.WithArguments(args...))
	if err != nil {
		return nil, err
	}
	transaction, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return nil, withDetails(err)
	}
	commit, err := transaction.SubmitWithContext(ctx)
	if err != nil {
		return nil, withDetails(err)
	}
	return &pending{commit: commit, result: transaction.Result()}, nil
}

type pending struct {
	commit *client.Commit
	result []byte
}

func (p *pending) TransactionID() string {
	return p.commit.TransactionID()
}

func (p *pending) Confirm(ctx context.Context) (*gateway.Receipt, error) {
	status, err := p.commit.StatusWithContext(ctx)
	if err != nil {
		return nil, withDetails(err)
	}
	if !status.Successful {
		return nil, fmt.Errorf("transaction %s failed to commit with status %s", status.TransactionID, status.Code.String())
	}
	return &gateway.Receipt{
		TransactionID:  status.TransactionID,
		BlockNumber:    status.BlockNumber,
		ValidationCode: status.Code.String(),
		Result:         p.result,
	}, nil
}
