package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrValidation         = NewErr("VALIDATION_FAILED", "validation failed", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired       = NewErr("PASTE_EXPIRED", "paste expired", http.StatusNotFound)
	ErrViewLimit          = NewErr("VIEW_LIMIT_REACHED", "view limit reached", http.StatusNotFound)
	ErrDuplicateID        = NewErr("DUPLICATE_ID", "duplicate id", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
	ErrStoreUnavailable   = NewErr("STORE_UNAVAILABLE", "store unavailable", http.StatusInternalServerError)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

// Is matches on Code so Validation(...) errors compare equal to ErrValidation.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Validation builds a caller-facing validation error with a specific message.
func Validation(msg string) *Err {
	return NewErr(ErrValidation.Code, msg, ErrValidation.Status)
}

// Gone reports whether err is one of the outcomes that must look identical to
// a missing paste from the outside.
func Gone(err error) bool {
	return errors.Is(err, ErrPasteNotFound) ||
		errors.Is(err, ErrPasteExpired) ||
		errors.Is(err, ErrViewLimit)
}

const (
	ReasonExpired   = "expired"
	ReasonViewLimit = "view_limit"
	ReasonNotFound  = "not_found"
)

// Reason is the internal label for a gone outcome, used in logs, metrics and
// the terminal state persisted by stores.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPasteExpired):
		return ReasonExpired
	case errors.Is(err, ErrViewLimit):
		return ReasonViewLimit
	case errors.Is(err, ErrPasteNotFound):
		return ReasonNotFound
	}
	return "error"
}

// FromReason maps a persisted reason back to its error. Unknown reasons read
// as not found.
func FromReason(reason string) error {
	switch reason {
	case ReasonExpired:
		return ErrPasteExpired
	case ReasonViewLimit:
		return ErrViewLimit
	}
	return ErrPasteNotFound
}

type ErrResp struct {
	Error string `json:"error"`
}

// ToResp maps err to its public body. Gone outcomes share one message and
// anything unclassified collapses to a generic internal error.
func ToResp(err error) ErrResp {
	if Gone(err) {
		return ErrResp{Error: ErrPasteNotFound.Msg}
	}
	var e *Err
	if errors.As(err, &e) && e.Status < http.StatusInternalServerError {
		return ErrResp{Error: e.Msg}
	}
	return ErrResp{Error: "internal server error"}
}

func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
