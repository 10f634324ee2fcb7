package dashboard

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"skillendorse/account"
	"skillendorse/gateway"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

// mutationFunc runs one mutating operation chain and returns the success
// status and body.
type mutationFunc func(ctx iris.Context) (int, interface{}, error)

// mutation wraps fn with Idempotency-Key handling. Only successful responses
// are stored; a failed or panicking attempt releases the key so the client can
// retry it.
func (s *Server) mutation(fn mutationFunc) iris.Handler {
	return func(ctx iris.Context) {
		key := strings.TrimSpace(ctx.GetHeader(headerIdempotencyKey))
		if key == "" || s.idem == nil {
			status, body, err := fn(ctx)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.StatusCode(status)
			ctx.JSON(body)
			return
		}

		fingerprint, err := requestFingerprint(ctx)
		if err != nil {
			writeError(ctx, err)
			return
		}
		replay, err := s.idem.Reserve(key, fingerprint)
		if err != nil {
			writeError(ctx, err)
			return
		}
		if replay != nil {
			logger.Infof("[%s] Replaying stored response for key '%s'", reqID(ctx), key)
			ctx.Header(headerReplayed, "true")
			ctx.ContentType(replay.ContentType)
			ctx.StatusCode(replay.Status)
			ctx.Write(replay.Body)
			return
		}

		completed := false
		defer func() {
			if completed {
				return
			}
			if err := s.idem.Release(key); err != nil {
				logger.Warningf("[%s] Release of key '%s' failed: %v", reqID(ctx), key, err)
			}
		}()

		status, body, err := fn(ctx)
		if err != nil {
			writeError(ctx, err)
			return
		}
		payload, err := json.Marshal(body)
		if err != nil {
			writeError(ctx, err)
			return
		}
		completed = true
		if err := s.idem.Complete(key, status, contentTypeJSON, payload); err != nil {
			logger.Warningf("[%s] Storing response for key '%s' failed: %v", reqID(ctx), key, err)
		}
		ctx.ContentType(contentTypeJSON)
		ctx.StatusCode(status)
		ctx.Write(payload)
	}
}

// requestFingerprint digests the route and the payload of a mutation. Form
// fields are hashed in key order and files by content, so a retry with a new
// multipart boundary or field order still matches.
func requestFingerprint(ctx iris.Context) (string, error) {
	req := ctx.Request()
	h := sha256.New()
	fmt.Fprintf(h, "%s %s\n", req.Method, ctx.Path())

	if !strings.HasPrefix(ctx.GetContentTypeRequested(), "multipart/") {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return "", &gateway.ValidationError{Message: "unreadable body: " + err.Error()}
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	if err := req.ParseMultipartForm(ctx.Application().ConfigurationReadOnly().GetPostMaxMemory()); err != nil {
		return "", &gateway.ValidationError{Field: "file", Message: err.Error()}
	}
	form := req.MultipartForm
	for _, name := range sortedKeys(form.Value) {
		for _, v := range form.Value[name] {
			fmt.Fprintf(h, "field %q=%q\n", name, v)
		}
	}
	for _, name := range sortedKeys(form.File) {
		for _, fh := range form.File[name] {
			fmt.Fprintf(h, "file %q %q %d\n", name, fh.Filename, fh.Size)
			f, err := fh.Open()
			if err != nil {
				return "", &gateway.ValidationError{Field: "file", Message: err.Error()}
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return "", &gateway.ValidationError{Field: "file", Message: err.Error()}
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Mutations ---

func (s *Server) submitEndorsement(ctx iris.Context) (int, interface{}, error) {
	form := gateway.EndorsementForm{
		Subject:      ctx.FormValue("subject"),
		EndorserName: ctx.FormValue("endorserName"),
		EndorseeName: ctx.FormValue("endorseeName"),
		Location:     ctx.FormValue("location"),
		Occupation:   ctx.FormValue("occupation"),
		PhoneNumber:  ctx.FormValue("phoneNumber"),
		Reason:       ctx.FormValue("reason"),
		Review:       ctx.FormValue("review"),
	}

	var att *gateway.Attachment
	file, hdr, err := ctx.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		att = &gateway.Attachment{Filename: hdr.Filename, Size: hdr.Size, Body: file}
	case !errors.Is(err, http.ErrMissingFile):
		return 0, nil, &gateway.ValidationError{Field: "file", Message: err.Error()}
	}

	result, err := s.svc.SubmitEndorsement(ctx.Request().Context(), s.sess, form, att)
	if err != nil {
		return 0, nil, err
	}
	logger.Infof("[%s] Filed endorsement for %s in tx %s", reqID(ctx), result.Subject, result.Receipt.TransactionID)
	return http.StatusCreated, result, nil
}

func (s *Server) validateEndorsement(ctx iris.Context) (int, interface{}, error) {
	subject, err := pathAddress(ctx)
	if err != nil {
		return 0, nil, err
	}
	index, err := ctx.Params().GetInt("index")
	if err != nil || index < 0 {
		return 0, nil, &gateway.ValidationError{Field: "index", Message: "must be a non-negative integer"}
	}

	result, err := s.svc.Validate(ctx.Request().Context(), s.sess, subject, index)
	if err != nil {
		return 0, nil, err
	}
	logger.Infof("[%s] Validated %s/%d in tx %s", reqID(ctx), result.Subject, index, result.Receipt.TransactionID)
	return http.StatusOK, result, nil
}

type grantInput struct {
	Account string `json:"account" validate:"required,eth_addr"`
}

func (s *Server) grantValidator(ctx iris.Context) (int, interface{}, error) {
	var in grantInput
	if err := ctx.ReadJSON(&in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return 0, nil, &gateway.ValidationError{Field: "account", Message: "must be an address"}
		}
		return 0, nil, &gateway.ValidationError{Message: "invalid payload: " + err.Error()}
	}

	result, err := s.svc.GrantValidator(ctx.Request().Context(), s.sess, in.Account)
	if err != nil {
		return 0, nil, err
	}
	logger.Infof("[%s] Granted validator role to %s", reqID(ctx), result.Account)
	return http.StatusOK, result, nil
}

// --- Views ---

func (s *Server) getAccount(ctx iris.Context) {
	if s.sess == nil {
		writeError(ctx, gateway.ErrNoSession)
		return
	}
	c := ctx.Request().Context()
	set, err := s.svc.Gate().Resolve(c, s.sess)
	if err != nil {
		jsonError(ctx, http.StatusBadGateway, "ledger_unavailable", err.Error())
		return
	}
	balance, err := s.svc.Client().BalanceOf(c, s.sess, s.sess.Account)
	if err != nil {
		jsonError(ctx, http.StatusBadGateway, "ledger_unavailable", err.Error())
		return
	}
	ctx.JSON(iris.Map{
		"account":     s.sess.Account,
		"isValidator": set.CanValidate(s.sess.Account),
		"isOwner":     set.IsOwner(s.sess.Account),
		"balance":     balance,
	})
}

func (s *Server) searchEndorsements(ctx iris.Context) {
	occupation := ctx.URLParamTrim("occupation")
	if occupation == "" {
		writeError(ctx, &gateway.ValidationError{Field: "occupation", Message: "is required"})
		return
	}
	records, err := s.svc.Client().QueryByCategory(ctx.Request().Context(), s.sess, occupation)
	if err != nil {
		readFailure(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"occupation": occupation, "records": records})
}

// recordView is a record as the validator queue shows it.
type recordView struct {
	gateway.EndorsementRecord
	CanValidate bool `json:"canValidate"`
}

func (s *Server) subjectEndorsements(ctx iris.Context) {
	subject, err := pathAddress(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	c := ctx.Request().Context()
	records, err := s.svc.Client().QueryBySubject(c, s.sess, subject)
	if err != nil {
		readFailure(ctx, err)
		return
	}

	// An unreadable validator set hides the approve action.
	set, err := s.svc.Gate().Resolve(c, s.sess)
	if err != nil {
		logger.Warningf("[%s] Validator set unavailable: %v", reqID(ctx), err)
	}
	canValidate := s.sess != nil && set.CanValidate(s.sess.Account)

	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView{EndorsementRecord: r, CanValidate: canValidate && !r.Validated})
	}
	ctx.JSON(iris.Map{"subject": subject, "canValidate": canValidate, "records": views})
}

func (s *Server) listValidators(ctx iris.Context) {
	set, err := s.svc.Gate().Resolve(ctx.Request().Context(), s.sess)
	if err != nil {
		ctx.StopWithJSON(http.StatusBadGateway, iris.Map{
			"error":      "ledger_unavailable",
			"message":    err.Error(),
			"validators": []string{},
		})
		return
	}
	ctx.JSON(iris.Map{"owner": set.Owner, "validators": set.Validators})
}

func (s *Server) getBalance(ctx iris.Context) {
	holder, err := pathAddress(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	balance, err := s.svc.Client().BalanceOf(ctx.Request().Context(), s.sess, holder)
	if err != nil {
		jsonError(ctx, http.StatusBadGateway, "ledger_unavailable", err.Error())
		return
	}
	ctx.JSON(balance)
}

func pathAddress(ctx iris.Context) (string, error) {
	addr, err := account.Normalize(ctx.Params().Get("address"))
	if err != nil {
		return "", &gateway.ValidationError{Field: "address", Message: err.Error()}
	}
	return addr, nil
}
