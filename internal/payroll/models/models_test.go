package models

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"paygate/internal/payroll/address"
	"paygate/pkg/platform/sentinel"
)

type ModelsSuite struct {
	suite.Suite
	now time.Time
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) SetupTest() {
	s.now = time.Unix(1_700_000_000, 0)
}

func ref(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = b
	return a
}

func (s *ModelsSuite) validParams() EmployeeParams {
	return EmployeeParams{
		EmployeeID:          "emp-001",
		Name:                "Ada Lovelace",
		Wallet:              ref(3),
		SalaryCommitment:    PlaceholderCommitment(5_000_000_000),
		ScreeningScore:      80,
		ConfidentialAccount: ref(4),
	}
}

func (s *ModelsSuite) TestNewPayroll() {
	s.Run("accepts the full basis point range", func() {
		p, err := NewPayroll(ref(1), ref(2), ref(3), MaxTaxRateBps, ref(4))
		s.Require().NoError(err)
		s.Equal(uint32(0), p.EmployeeCount)
		s.Equal(uint64(0), p.PaymentCount)
	})

	s.Run("rejects rates above 10000", func() {
		_, err := NewPayroll(ref(1), ref(2), ref(3), 10001, ref(4))
		s.Require().ErrorIs(err, ErrInvalidTaxRate)
	})

	s.Run("zero caller is never the authority", func() {
		p, err := NewPayroll(ref(1), address.Zero, ref(3), 0, ref(4))
		s.Require().NoError(err)
		s.False(p.IsAuthority(address.Zero))
	})
}

func (s *ModelsSuite) TestCounters() {
	s.Run("employee count saturates at zero", func() {
		p := &Payroll{}
		p.DecrementEmployees()
		p.DecrementEmployees()
		s.Equal(uint32(0), p.EmployeeCount)
		s.Require().NoError(p.IncrementEmployees())
		p.DecrementEmployees()
		p.DecrementEmployees()
		s.Equal(uint32(0), p.EmployeeCount)
	})

	s.Run("employee count overflow fails without wrapping", func() {
		p := &Payroll{EmployeeCount: math.MaxUint32}
		s.Require().ErrorIs(p.IncrementEmployees(), ErrCounterOverflow)
		s.Equal(uint32(math.MaxUint32), p.EmployeeCount)
	})

	s.Run("payment count overflow fails without wrapping", func() {
		p := &Payroll{PaymentCount: math.MaxUint64}
		s.Require().ErrorIs(p.IncrementPayments(), ErrCounterOverflow)
		s.Equal(uint64(math.MaxUint64), p.PaymentCount)
	})
}

func (s *ModelsSuite) TestNewEmployee() {
	s.Run("creates an active employee screened now", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		s.True(e.IsActive)
		s.Equal(s.now.Unix(), e.LastScreened)
		s.Equal(address.SchemeVersion, e.Bump)
		s.True(e.BelongsTo(ref(1)))
	})

	s.Run("id and name bounds are inclusive", func() {
		p := s.validParams()
		p.EmployeeID = strings.Repeat("i", MaxEmployeeIDLen)
		p.Name = strings.Repeat("n", MaxEmployeeNameLen)
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().NoError(err)
	})

	s.Run("empty id is within bounds", func() {
		p := s.validParams()
		p.EmployeeID = ""
		e, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().NoError(err)
		s.Empty(e.EmployeeID)
	})

	s.Run("65 byte id fails", func() {
		p := s.validParams()
		p.EmployeeID = strings.Repeat("i", 65)
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().ErrorIs(err, ErrEmployeeIDTooLong)
	})

	s.Run("129 byte name fails", func() {
		p := s.validParams()
		p.Name = strings.Repeat("n", 129)
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().ErrorIs(err, ErrEmployeeNameTooLong)
	})

	s.Run("length is measured in bytes", func() {
		p := s.validParams()
		p.EmployeeID = strings.Repeat("é", 33)
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().ErrorIs(err, ErrEmployeeIDTooLong)
	})

	s.Run("score 49 fails screening, 50 passes", func() {
		p := s.validParams()
		p.ScreeningScore = 49
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().ErrorIs(err, ErrScreeningFailed)

		p.ScreeningScore = 50
		_, err = NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().NoError(err)
	})

	s.Run("score above 100 is invalid", func() {
		p := s.validParams()
		p.ScreeningScore = 101
		_, err := NewEmployee(ref(9), ref(1), p, s.now)
		s.Require().ErrorIs(err, ErrInvalidScreeningScore)
	})
}

func (s *ModelsSuite) TestScreening() {
	s.Run("low score deactivates once", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)

		later := s.now.Add(time.Hour)
		deactivated, err := e.ApplyScreening(30, later)
		s.Require().NoError(err)
		s.True(deactivated)
		s.False(e.IsActive)
		s.Equal(uint8(30), e.ScreeningScore)
		s.Equal(later.Unix(), e.LastScreened)

		deactivated, err = e.ApplyScreening(20, later)
		s.Require().NoError(err)
		s.False(deactivated)
	})

	s.Run("high score does not reactivate", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		e.ApplyDeactivation()

		_, err = e.ApplyScreening(95, s.now)
		s.Require().NoError(err)
		s.False(e.IsActive)
	})

	s.Run("freshness window is exclusive at 24h", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		s.True(e.ScreeningValid(s.now.Add(ScreeningValidity - time.Second)))
		s.False(e.ScreeningValid(s.now.Add(ScreeningValidity)))
		s.Equal(s.now.Add(ScreeningValidity), e.ScreeningExpiresAt())
	})

	s.Run("manual deactivation requires an active employee", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		s.Require().NoError(e.CanDeactivate())
		e.ApplyDeactivation()
		s.Require().ErrorIs(e.CanDeactivate(), ErrEmployeeNotActive)
	})

	s.Run("risk levels", func() {
		s.Equal(RiskLevelLow, RiskLevelForScore(70))
		s.Equal(RiskLevelMedium, RiskLevelForScore(69))
		s.Equal(RiskLevelMedium, RiskLevelForScore(40))
		s.Equal(RiskLevelHigh, RiskLevelForScore(39))
	})
}

func (s *ModelsSuite) TestPaymentClaim() {
	ts := s.now.Unix()

	s.Run("zero salary is invalid", func() {
		err := PaymentClaim{SalaryAmount: 0, TaxAmount: 0, Timestamp: ts}.Validate(s.now)
		s.Require().ErrorIs(err, ErrInvalidAmount)
	})

	s.Run("tax equal to salary is allowed", func() {
		claim := PaymentClaim{SalaryAmount: 100, TaxAmount: 100, Timestamp: ts}
		s.Require().NoError(claim.Validate(s.now))
		s.Equal(uint64(0), claim.NetAmount())
	})

	s.Run("tax above salary fails", func() {
		err := PaymentClaim{SalaryAmount: 100, TaxAmount: 101, Timestamp: ts}.Validate(s.now)
		s.Require().ErrorIs(err, ErrTaxExceedsSalary)
	})

	s.Run("skew tolerance is exclusive at 300s in both directions", func() {
		ok := []int64{ts - 299, ts, ts + 299}
		for _, t := range ok {
			s.NoError(PaymentClaim{SalaryAmount: 1, Timestamp: t}.Validate(s.now))
		}
		bad := []int64{ts - 300, ts + 300, math.MinInt64, math.MaxInt64}
		for _, t := range bad {
			s.ErrorIs(PaymentClaim{SalaryAmount: 1, Timestamp: t}.Validate(s.now), ErrPaymentClockSkew)
		}
	})

	s.Run("amount checks run before the skew check", func() {
		err := PaymentClaim{SalaryAmount: 1, TaxAmount: 2, Timestamp: 0}.Validate(s.now)
		s.Require().ErrorIs(err, ErrTaxExceedsSalary)
	})
}

func (s *ModelsSuite) TestPaymentVerification() {
	rec := NewPaymentRecord(ref(7), ref(9), s.now.Unix(), ref(5), ref(4))
	s.Equal(PaymentStatusIssued, rec.Status())

	s.Require().ErrorIs(rec.CanVerify(ref(6)), ErrInvalidConfidentialAccount)
	s.Require().NoError(rec.CanVerify(ref(5)))

	rec.ApplyVerification(ref(8), s.now)
	s.Equal(PaymentStatusVerified, rec.Status())
	s.Equal(s.now.Unix(), rec.VerifiedAt)
	s.Equal(ref(8), rec.Verifier)
	s.Require().ErrorIs(rec.CanVerify(ref(5)), ErrAlreadyVerified)
}

func (s *ModelsSuite) TestLayout() {
	s.Run("payroll layout is fixed width", func() {
		p, err := NewPayroll(ref(1), ref(2), ref(3), 1500, ref(4))
		s.Require().NoError(err)
		p.EmployeeCount = 7
		p.PaymentCount = 1 << 40

		data := EncodePayroll(p)
		s.Len(data, PayrollRecordSize)

		decoded, err := DecodePayroll(ref(1), data)
		s.Require().NoError(err)
		s.Equal(p, decoded)
	})

	s.Run("employee layout carries both strings", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		data := EncodeEmployee(e)
		s.LessOrEqual(len(data), EmployeeRecordMaxLen)

		decoded, err := DecodeEmployee(ref(9), data)
		s.Require().NoError(err)
		s.Equal(e, decoded)
	})

	s.Run("payment layout has no room for amounts", func() {
		rec := NewPaymentRecord(ref(7), ref(9), s.now.Unix(), ref(5), ref(4))
		data := EncodePayment(rec)
		s.Len(data, PaymentRecordSize)

		kind, err := KindOf(data)
		s.Require().NoError(err)
		s.Equal(KindPayment, kind)
	})

	s.Run("decoding the wrong kind fails", func() {
		rec := NewPaymentRecord(ref(7), ref(9), s.now.Unix(), ref(5), ref(4))
		_, err := DecodePayroll(ref(7), EncodePayment(rec))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("truncated and padded records fail", func() {
		p, err := NewPayroll(ref(1), ref(2), ref(3), 1500, ref(4))
		s.Require().NoError(err)
		data := EncodePayroll(p)

		_, err = DecodePayroll(ref(1), data[:len(data)-1])
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		_, err = DecodePayroll(ref(1), append(data, 0))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("oversized string prefix fails", func() {
		e, err := NewEmployee(ref(9), ref(1), s.validParams(), s.now)
		s.Require().NoError(err)
		data := EncodeEmployee(e)
		// employee_id length prefix follows the discriminator and payroll address.
		data[DiscriminatorSize+32] = 0xff
		_, err = DecodeEmployee(ref(9), data)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}
