package shared

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("ledger: add work: %w", Invalid("name", "is required"))
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)
	assert.Equal(t, "validation failed: name is required", UserSafeMessage(err))
}

func TestPersistenceKeepsTaxonomy(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Persistence("put", cause)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, cause)

	notFound := fmt.Errorf("x: %w", ErrNotFound)
	assert.Same(t, notFound, Persistence("get", notFound))
	assert.Nil(t, Persistence("get", nil))
}

func TestKeyedLockerSerialisesPerKey(t *testing.T) {
	locker := NewKeyedLocker()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(DocumentLockKey("customers", "c1"))
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
	assert.Empty(t, locker.locks)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Equal(t, 3, p.TotalPages)

	start, end := p.Window()
	assert.Equal(t, [2]int{0, 20}, [2]int{start, end})

	last := NewPagination(3, 20, 45)
	start, end = last.Window()
	assert.Equal(t, [2]int{40, 45}, [2]int{start, end})

	past := NewPagination(9, 500, 45)
	assert.Equal(t, MaxPerPage, past.PerPage)
	start, end = past.Window()
	assert.Equal(t, start, end)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Name   string  `validate:"required"`
		Amount float64 `validate:"gt=0"`
	}
	err := ValidateStruct(input{Amount: 10})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "name is required")

	err = ValidateStruct(input{Name: "x", Amount: -1})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "amount must be greater than 0")

	require.NoError(t, ValidateStruct(input{Name: "x", Amount: 1}))
}

func TestValidateStructRejectsBlank(t *testing.T) {
	type input struct {
		Reason string `validate:"required,notblank"`
	}
	err := ValidateStruct(input{Reason: " \t "})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "reason must not be blank")

	require.NoError(t, ValidateStruct(input{Reason: " salary "}))
}

func TestRequireAmountRoundsFirst(t *testing.T) {
	for _, raw := range []string{"0", "-5", "0.001", "0.004"} {
		_, err := RequireAmount("amount", decimal.RequireFromString(raw))
		require.ErrorIs(t, err, ErrValidation, raw)
	}
	got, err := RequireAmount("amount", decimal.RequireFromString("0.005"))
	require.NoError(t, err)
	assert.Equal(t, "0.01", got.StringFixed(2))
}
