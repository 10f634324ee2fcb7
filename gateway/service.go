package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"skillendorse/account"
	"skillendorse/chaincode/model"

	"github.com/go-playground/validator/v10"
)

// EndorsementForm is the raw user input of a submission. Review stays a
// string until parsed so that "4.5" and "abc" are rejected, not coerced.
type EndorsementForm struct {
	Subject      string `json:"subject" validate:"required,eth_addr"`
	EndorserName string `json:"endorserName" validate:"required,max=256"`
	EndorseeName string `json:"endorseeName" validate:"required,max=256"`
	Location     string `json:"location" validate:"required,max=256"`
	Occupation   string `json:"occupation" validate:"required,max=256"`
	PhoneNumber  string `json:"phoneNumber" validate:"required,max=256"`
	Reason       string `json:"reason" validate:"required,max=1024"`
	Review       string `json:"review" validate:"required"`
}

// Attachment is the file submitted with an endorsement.
type Attachment struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// SubmitResult is the outcome of a confirmed submission plus the reloaded
// records of its subject.
type SubmitResult struct {
	Receipt       *Receipt            `json:"receipt"`
	AttachmentRef ContentRef          `json:"attachmentRef"`
	Subject       string              `json:"subject"`
	Records       []EndorsementRecord `json:"records"`
}

// ValidateResult is the outcome of a confirmed validation plus the reloaded records.
type ValidateResult struct {
	Receipt *Receipt            `json:"receipt"`
	Subject string              `json:"subject"`
	Index   int                 `json:"index"`
	Records []EndorsementRecord `json:"records"`
}

// GrantResult is the outcome of a confirmed grant plus the reloaded validator set.
type GrantResult struct {
	Receipt    *Receipt `json:"receipt"`
	Account    string   `json:"account"`
	Validators []string `json:"validators"`
}

// Service runs the user-facing operation chains on top of the ledger client.
type Service struct {
	client         *LedgerClient
	gate           *Gate
	uploader       Uploader
	validate       *validator.Validate
	maxUploadBytes int64
}

// NewService wires the chains. maxUploadBytes <= 0 disables the size limit.
func NewService(client *LedgerClient, uploader Uploader, maxUploadBytes int64) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		client:         client,
		gate:           NewGate(client),
		uploader:       uploader,
		validate:       v,
		maxUploadBytes: maxUploadBytes,
	}
}

// Client returns the underlying ledger client.
func (s *Service) Client() *LedgerClient { return s.client }

// Gate returns the service's authorization gate.
func (s *Service) Gate() *Gate { return s.gate }

// ParseReview accepts a base-10 integer in [0, MaxReview].
func ParseReview(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid("review", "is required")
	}
	review, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("review", "must be an integer, got %q", raw)
	}
	if review < 0 || review > model.MaxReview {
		return 0, invalid("review", "must be between 0 and %d, got %d", model.MaxReview, review)
	}
	return review, nil
}

// CheckForm validates the form and returns the ledger request without an
// attachment reference. It performs no I/O.
func (s *Service) CheckForm(form EndorsementForm) (FilingRequest, error) {
	if err := s.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return FilingRequest{}, invalid(fe.Field(), "failed '%s' check", fe.Tag())
		}
		return FilingRequest{}, &ValidationError{Message: err.Error()}
	}
	subject, err := account.Normalize(form.Subject)
	if err != nil {
		return FilingRequest{}, invalid("subject", "%v", err)
	}
	review, err := ParseReview(form.Review)
	if err != nil {
		return FilingRequest{}, err
	}
	return FilingRequest{
		Subject:      subject,
		EndorserName: form.EndorserName,
		EndorseeName: form.EndorseeName,
		Location:     form.Location,
		Occupation:   form.Occupation,
		PhoneNumber:  form.PhoneNumber,
		Reason:       form.Reason,
		Review:       review,
	}, nil
}

func (s *Service) checkAttachment(att *Attachment) error {
	if att == nil || att.Body == nil {
		return invalid("file", "is required")
	}
	if att.Size == 0 {
		return invalid("file", "must not be empty")
	}
	if s.maxUploadBytes > 0 && att.Size > s.maxUploadBytes {
		return invalid("file", "exceeds %d bytes", s.maxUploadBytes)
	}
	return nil
}

// SubmitEndorsement validates, uploads the attachment once, files the record
// once and reloads the subject's records. A failed upload never reaches the ledger.
func (s *Service) SubmitEndorsement(ctx context.Context, sess *Session, form EndorsementForm, att *Attachment) (*SubmitResult, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	req, err := s.CheckForm(form)
	if err != nil {
		return nil, err
	}
	if err := s.checkAttachment(att); err != nil {
		return nil, err
	}

	ref, err := s.uploader.Upload(ctx, att.Filename, att.Body)
	if err != nil {
		var uerr *UploadError
		if !errors.As(err, &uerr) {
			err = &UploadError{Err: err}
		}
		return nil, err
	}
	req.AttachmentRef = string(ref)

	receipt, err := s.client.FileEndorsement(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		Receipt:       receipt,
		AttachmentRef: ref,
		Subject:       req.Subject,
		Records:       s.reloadSubject(ctx, sess, req.Subject),
	}, nil
}

// Validate approves (subject, index) after an advisory gate check.
func (s *Service) Validate(ctx context.Context, sess *Session, subject string, index int) (*ValidateResult, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	set, err := s.gate.Resolve(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("%w: validator set unavailable: %v", ErrNotAuthorized, err)
	}
	if !set.CanValidate(sess.Account) {
		return nil, fmt.Errorf("%w: '%s' is not a validator", ErrNotAuthorized, sess.Account)
	}
	receipt, err := s.client.ValidateEndorsement(ctx, sess, subject, index)
	if err != nil {
		return nil, err
	}
	normalized, _ := account.Normalize(subject)
	return &ValidateResult{
		Receipt: receipt,
		Subject: normalized,
		Index:   index,
		Records: s.reloadSubject(ctx, sess, normalized),
	}, nil
}

// GrantValidator adds a validator after an advisory owner check.
func (s *Service) GrantValidator(ctx context.Context, sess *Session, identity string) (*GrantResult, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	set, err := s.gate.Resolve(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("%w: validator set unavailable: %v", ErrNotAuthorized, err)
	}
	if !set.IsOwner(sess.Account) {
		return nil, fmt.Errorf("%w: '%s' is not the owner", ErrNotAuthorized, sess.Account)
	}
	receipt, err := s.client.GrantValidatorRole(ctx, sess, identity)
	if err != nil {
		return nil, err
	}
	validators, err := s.client.GetValidators(ctx, sess)
	if err != nil {
		logger.Warningf("GrantValidator: reload of validators failed: %v", err)
		validators = []string{}
	}
	normalized, _ := account.Normalize(identity)
	return &GrantResult{Receipt: receipt, Account: normalized, Validators: validators}, nil
}

// reloadSubject re-reads the subject after a confirmed mutation. A failed
// reload yields an empty list; the mutation itself already succeeded.
func (s *Service) reloadSubject(ctx context.Context, sess *Session, subject string) []EndorsementRecord {
	records, err := s.client.QueryBySubject(ctx, sess, subject)
	if err != nil {
		logger.Warningf("Reload of '%s' failed: %v", subject, err)
		return []EndorsementRecord{}
	}
	return records
}
