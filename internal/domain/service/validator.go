package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// SideStore is the fast shared store backing duplicate detection and
// rate limiting (Redis-class). Implementations must be safe for
// concurrent use.
type SideStore interface {
	// CheckFingerprint records the fingerprint and reports whether it was
	// already present inside the window.
	CheckFingerprint(ctx context.Context, key string, window time.Duration) (bool, error)
	// TakeToken takes one token from the chat's bucket and reports
	// whether the action is allowed.
	TakeToken(ctx context.Context, key string, capacity int, refillPerSec float64) (bool, error)
}

// ValidatorConfig tunes the debounce window and token bucket.
type ValidatorConfig struct {
	DuplicateWindow  time.Duration
	RateTokens       int
	RateRefillPerSec float64
}

const localFallbackCap = 4096

// Validator guards the dialog pipeline: duplicate-click debounce, a
// per-chat token bucket, and typed validation of expected input.
//
// Side-store outages degrade asymmetrically: rate limiting fails open
// (messaging continues) while duplicate detection fails closed through a
// bounded local fingerprint map, so an outage can never double-process a
// click.
type Validator struct {
	store  SideStore
	cfg    ValidatorConfig
	logger *zap.Logger

	localMu    sync.Mutex
	localSeen  map[string]time.Time
	localOrder []string
}

// NewValidator creates a validator. store may be nil; the validator then
// runs entirely on the local fallback.
func NewValidator(store SideStore, cfg ValidatorConfig, logger *zap.Logger) *Validator {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 1500 * time.Millisecond
	}
	if cfg.RateTokens <= 0 {
		cfg.RateTokens = 5
	}
	if cfg.RateRefillPerSec <= 0 {
		cfg.RateRefillPerSec = 1
	}
	return &Validator{
		store:     store,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "validator")),
		localSeen: make(map[string]time.Time),
	}
}

// CheckEvent runs the pre-mutation checks: duplicate fingerprint, then
// the token bucket. Errors carry CodeDuplicate or CodeRateLimited.
func (v *Validator) CheckEvent(ctx context.Context, botID, chatID, stepID string, ev platform.Event) error {
	fp := Fingerprint(chatID, stepID, ev)

	duplicate, err := v.checkFingerprint(ctx, botID, fp)
	if err == nil && duplicate {
		return apperrors.New(apperrors.CodeDuplicate, "duplicate click")
	}

	if v.store != nil {
		key := fmt.Sprintf("rl:%s:%s", botID, chatID)
		allowed, err := v.store.TakeToken(ctx, key, v.cfg.RateTokens, v.cfg.RateRefillPerSec)
		if err != nil {
			// Fail open: a side-store outage must not stop messaging.
			v.logger.Warn("Rate limit store unavailable, allowing event", zap.Error(err))
			return nil
		}
		if !allowed {
			return apperrors.New(apperrors.CodeRateLimited, "too many actions")
		}
	}

	return nil
}

// Fingerprint hashes the event identity used for duplicate detection.
func Fingerprint(chatID, stepID string, ev platform.Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s%s%s", chatID, stepID, ev.Kind, ev.Text, ev.Value, ev.Command)
	return hex.EncodeToString(h.Sum(nil))
}

func (v *Validator) checkFingerprint(ctx context.Context, botID, fp string) (bool, error) {
	key := "fp:" + botID + ":" + fp

	if v.store != nil {
		duplicate, err := v.store.CheckFingerprint(ctx, key, v.cfg.DuplicateWindow)
		if err == nil {
			return duplicate, nil
		}
		// Fail closed: fall through to the local map.
		v.logger.Warn("Fingerprint store unavailable, using local fallback", zap.Error(err))
	}

	return v.localCheck(key), nil
}

// localCheck is the degraded-mode duplicate detector: a bounded FIFO map.
func (v *Validator) localCheck(key string) bool {
	v.localMu.Lock()
	defer v.localMu.Unlock()

	now := time.Now()
	if seenAt, ok := v.localSeen[key]; ok && now.Sub(seenAt) < v.cfg.DuplicateWindow {
		return true
	}

	if _, ok := v.localSeen[key]; !ok {
		v.localOrder = append(v.localOrder, key)
		for len(v.localOrder) > localFallbackCap {
			oldest := v.localOrder[0]
			v.localOrder = v.localOrder[1:]
			delete(v.localSeen, oldest)
		}
	}
	v.localSeen[key] = now
	return false
}

// --- Typed input validation ---

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{5,18}$`)
)

var dateLayouts = []string{"2006-01-02", "02.01.2006", "01/02/2006"}

// ValidateInput checks an event against a step's InputSpec and returns
// the normalized value to store under spec.Variable.
//
// Failures carry CodeInvalidInput with the step's error_message (or a
// default), except button mismatches which carry CodeInvalidButton so
// the caller re-renders the button set.
func (v *Validator) ValidateInput(step *entity.Step, spec *entity.InputSpec, ev platform.Event) (any, error) {
	raw := ev.Text
	if ev.Kind == platform.EventButton {
		raw = ev.Value
	}
	raw = strings.TrimSpace(raw)

	switch spec.Kind {
	case entity.InputButton:
		for _, value := range step.ButtonValues() {
			if raw == value {
				return raw, nil
			}
		}
		return nil, apperrors.New(apperrors.CodeInvalidButton, "value is not one of the offered buttons")

	case entity.InputText:
		length := utf8.RuneCountInString(raw)
		if spec.MinLength != nil && length < *spec.MinLength {
			return nil, v.invalid(spec, fmt.Sprintf("please enter at least %d characters", *spec.MinLength))
		}
		if spec.MaxLength != nil && length > *spec.MaxLength {
			return nil, v.invalid(spec, fmt.Sprintf("please enter at most %d characters", *spec.MaxLength))
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				v.logger.Error("Invalid input pattern in scenario", zap.String("pattern", spec.Pattern), zap.Error(err))
			} else if !re.MatchString(raw) {
				return nil, v.invalid(spec, "that doesn't look right, please try again")
			}
		}
		return raw, nil

	case entity.InputNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, v.invalid(spec, "please enter a number")
		}
		if spec.MinValue != nil && f < *spec.MinValue {
			return nil, v.invalid(spec, fmt.Sprintf("please enter a value of at least %v", *spec.MinValue))
		}
		if spec.MaxValue != nil && f > *spec.MaxValue {
			return nil, v.invalid(spec, fmt.Sprintf("please enter a value of at most %v", *spec.MaxValue))
		}
		return f, nil

	case entity.InputDate:
		layouts := dateLayouts
		if spec.Pattern != "" {
			layouts = []string{spec.Pattern}
		}
		var parsed time.Time
		var ok bool
		for _, layout := range layouts {
			if t, err := time.Parse(layout, raw); err == nil {
				parsed, ok = t, true
				break
			}
		}
		if !ok {
			return nil, v.invalid(spec, "please enter a date like 2026-01-31")
		}
		unix := float64(parsed.Unix())
		if spec.MinValue != nil && unix < *spec.MinValue {
			return nil, v.invalid(spec, "that date is too early")
		}
		if spec.MaxValue != nil && unix > *spec.MaxValue {
			return nil, v.invalid(spec, "that date is too late")
		}
		return parsed.Format("2006-01-02"), nil

	case entity.InputEmail:
		if !emailPattern.MatchString(raw) {
			return nil, v.invalid(spec, "please enter a valid email address")
		}
		return strings.ToLower(raw), nil

	case entity.InputPhone:
		if !phonePattern.MatchString(raw) {
			return nil, v.invalid(spec, "please enter a valid phone number")
		}
		return raw, nil
	}

	return nil, v.invalid(spec, "unsupported input")
}

func (v *Validator) invalid(spec *entity.InputSpec, fallback string) error {
	msg := spec.ErrorMessage
	if msg == "" {
		msg = fallback
	}
	return apperrors.NewInvalidInput(msg)
}
