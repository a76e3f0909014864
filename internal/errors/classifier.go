package errors

import (
	"errors"
	"sync"
	"syscall"
)

// ErrorCategory represents the category of an error for retry logic and
// error accounting.
type ErrorCategory int

const (
	ErrorTransient  ErrorCategory = iota // Temporary errors - retry with backoff
	ErrorPermanent                       // Permanent errors - no retry
	ErrorCritical                        // System-level errors - alert immediately
	ErrorValidation                      // Data validation errors - no retry
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorCritical:
		return "critical"
	case ErrorValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Primary SQLite result codes (https://sqlite.org/rescode.html).
const (
	sqliteError      = 1
	sqliteInternal   = 2
	sqlitePerm       = 3
	sqliteAbort      = 4
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteNoMem      = 7
	sqliteReadOnly   = 8
	sqliteIOErr      = 10
	sqliteCorrupt    = 11
	sqliteFull       = 13
	sqliteCantOpen   = 14
	sqliteConstraint = 19
	sqliteMismatch   = 20
)

// CodeExtractor pulls a SQLite result code out of a driver-specific error.
type CodeExtractor func(err error) (int, bool)

var (
	extractorsMu sync.RWMutex
	extractors   []CodeExtractor
)

// RegisterCodeExtractor adds a driver-specific result code extractor.
// Drivers that expose codes through a Code() int method need no extractor.
func RegisterCodeExtractor(fn CodeExtractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	extractors = append(extractors, fn)
}

// SQLiteCode returns the primary SQLite result code carried by err, if any.
func SQLiteCode(err error) (int, bool) {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code() & 0xff, true
	}

	extractorsMu.RLock()
	defer extractorsMu.RUnlock()
	for _, fn := range extractors {
		if code, ok := fn(err); ok {
			return code & 0xff, true
		}
	}
	return 0, false
}

// Classifier categorizes errors for retry logic and metrics.
type Classifier struct{}

// NewClassifier creates a new error classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify determines the category of an error.
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return ErrorPermanent
	}

	if code, ok := SQLiteCode(err); ok {
		return classifyCode(code)
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EAGAIN, syscall.ENOMEM, syscall.ETIMEDOUT:
			return ErrorTransient
		case syscall.ENOENT, syscall.EINVAL, syscall.EEXIST:
			return ErrorPermanent
		case syscall.EIO, syscall.ENOSPC:
			return ErrorCritical
		}
	}

	switch {
	case errors.Is(err, ErrRecvTimeout):
		return ErrorTransient
	case errors.Is(err, ErrSchedulerGone), errors.Is(err, ErrPoolCreation):
		return ErrorCritical
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnknownDriver):
		return ErrorValidation
	}

	return ErrorPermanent
}

func classifyCode(code int) ErrorCategory {
	switch code {
	case sqliteBusy, sqliteLocked:
		return ErrorTransient
	case sqliteIOErr, sqliteCorrupt, sqliteFull, sqliteNoMem, sqliteCantOpen, sqliteInternal:
		return ErrorCritical
	case sqliteConstraint, sqliteMismatch:
		return ErrorValidation
	case sqliteError, sqlitePerm, sqliteAbort, sqliteReadOnly:
		return ErrorPermanent
	default:
		return ErrorPermanent
	}
}

// ShouldRetry returns true if the error category indicates retry is appropriate.
func (c *Classifier) ShouldRetry(category ErrorCategory) bool {
	return category == ErrorTransient
}

// IsCritical returns true if the error requires immediate attention.
func (c *Classifier) IsCritical(category ErrorCategory) bool {
	return category == ErrorCritical
}
