package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy — экспоненциальная политика backoff с jitter.
//
//	delay(n) = min(Base * Factor^(n-1) * (1 + Jitter*r), Cap),  r ∈ [0, 1)
//
// При Factor >= 1+Jitter задержка не убывает с номером попытки
// при любых значениях r.
type Policy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64
}

// DefaultPolicies возвращает встроенные политики backoff.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"default":  {Base: 5 * time.Second, Factor: 2, Cap: 5 * time.Minute, Jitter: 0.2},
		"render":   {Base: 10 * time.Second, Factor: 2, Cap: 10 * time.Minute, Jitter: 0.2},
		"provider": {Base: 30 * time.Second, Factor: 3, Cap: 30 * time.Minute, Jitter: 0.25},
	}
}

// Validate проверяет параметры политики.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("%w: base must be positive", ErrInvalidPolicy)
	}
	if p.Cap < p.Base {
		return fmt.Errorf("%w: cap %s is below base %s", ErrInvalidPolicy, p.Cap, p.Base)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidPolicy)
	}
	if p.Factor < 1+p.Jitter {
		return fmt.Errorf("%w: factor %.2f must be at least 1+jitter", ErrInvalidPolicy, p.Factor)
	}
	return nil
}

// Delay возвращает задержку перед попыткой attempt (с 1).
// r — случайное число из [0, 1).
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r = math.Max(0, math.Min(r, 1))

	raw := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	d := raw * (1 + p.Jitter*r)
	if math.IsInf(d, 0) || d >= float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}
