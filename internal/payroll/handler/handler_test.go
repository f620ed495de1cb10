package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"paygate/internal/confidential"
	jwttoken "paygate/internal/jwt_token"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/service"
	"paygate/internal/payroll/store"
	"paygate/internal/screening"
	"paygate/pkg/platform/audit/publishers/compliance"
	auditmemory "paygate/pkg/platform/audit/store/memory"
	"paygate/pkg/platform/middleware/admin"
	"paygate/pkg/testutil"
)

const testAdminToken = "admin-secret"

func identity(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	jwt      *jwttoken.JWTService
	registry *confidential.Registry
	oracle   *screening.Static

	employer   address.Address
	wallet     address.Address
	taxAccount address.Address
	program    address.Address
	empAccount address.Address
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := store.NewInMemory()
	auditStore := auditmemory.NewInMemoryStore()
	s.registry = confidential.NewRegistry()
	s.oracle = screening.NewStatic(85)
	s.jwt = jwttoken.NewJWTService("test-key", "paygate", "paygate-api")

	svc := service.New(ledger, ledger, s.registry,
		service.WithLogger(logger),
		service.WithAuditPublisher(compliance.New(auditStore)),
		service.WithScreeningOracle(s.oracle),
	)
	h := New(svc, auditStore, jwttoken.NewJWTServiceAdapter(s.jwt), logger, WithAccountRegistry(s.registry))

	r := chi.NewRouter()
	h.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(testAdminToken, logger))
		h.RegisterAdmin(r)
	})
	s.router = r

	s.employer = identity(0x11)
	s.wallet = identity(0x22)
	s.taxAccount = identity(0x33)
	s.program = identity(0x44)
	s.empAccount = identity(0x55)
}

func (s *HandlerSuite) token(caller address.Address) string {
	tok, err := s.jwt.GenerateCallerToken(caller, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) do(method, path string, caller *address.Address, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if caller != nil {
		testutil.WithBearer(req, s.token(*caller))
	}
	return testutil.DoRequest(s.router, req)
}

func decode[T any](s *HandlerSuite, rec *httptest.ResponseRecorder) T {
	return testutil.UnmarshalResponse[T](s.T(), rec)
}

func (s *HandlerSuite) initialize() PayrollResponse {
	rec := s.do(http.MethodPost, "/payrolls", &s.employer, map[string]any{
		"tax_rate_bps":         1500,
		"tax_authority":        identity(0x66).String(),
		"confidential_program": s.program.String(),
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PayrollResponse](s, rec)
}

func (s *HandlerSuite) addEmployee(payroll address.Address, id string, score *int) *httptest.ResponseRecorder {
	body := map[string]any{
		"employee_id":          id,
		"name":                 "Ada Lovelace",
		"wallet":               s.wallet.String(),
		"salary_amount":        5_000_000_000,
		"confidential_account": s.empAccount.String(),
	}
	if score != nil {
		body["screening_score"] = *score
	}
	return s.do(http.MethodPost, "/payrolls/"+payroll.String()+"/employees", &s.employer, body)
}

func (s *HandlerSuite) paymentBody(taxAmount uint64) map[string]any {
	return map[string]any{
		"salary_amount":                 5_000_000_000,
		"tax_amount":                    taxAmount,
		"employer_confidential_account": identity(0x77).String(),
		"tax_confidential_account":      s.taxAccount.String(),
		"employee_confidential_account": s.empAccount.String(),
		"confidential_program":          s.program.String(),
	}
}

func errorBody(s *HandlerSuite, rec *httptest.ResponseRecorder) map[string]string {
	body := decode[testutil.ErrorBody](s, rec)
	return map[string]string{"error": body.Error, "reason": body.Reason}
}

func (s *HandlerSuite) TestMutationsRequireToken() {
	rec := s.do(http.MethodPost, "/payrolls", nil, map[string]any{"tax_rate_bps": 100})
	s.Equal(http.StatusUnauthorized, rec.Code)

	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/payrolls", map[string]any{}), "not-a-jwt")
	rec = testutil.DoRequest(s.router, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestInitialize() {
	p := s.initialize()
	s.Equal(s.employer, p.Authority)
	s.Equal(uint16(1500), p.TaxRateBps)
	s.Zero(p.EmployeeCount)

	s.Run("second initialize conflicts", func() {
		rec := s.do(http.MethodPost, "/payrolls", &s.employer, map[string]any{
			"tax_rate_bps":         100,
			"tax_authority":        identity(0x66).String(),
			"confidential_program": s.program.String(),
		})
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal("already_exists", errorBody(s, rec)["reason"])
	})

	s.Run("tax rate above 10000", func() {
		other := identity(0x12)
		rec := s.do(http.MethodPost, "/payrolls", &other, map[string]any{
			"tax_rate_bps":         10001,
			"tax_authority":        identity(0x66).String(),
			"confidential_program": s.program.String(),
		})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("invalid_tax_rate", errorBody(s, rec)["reason"])
	})

	s.Run("malformed address", func() {
		other := identity(0x13)
		rec := s.do(http.MethodPost, "/payrolls", &other, map[string]any{
			"tax_rate_bps":         100,
			"tax_authority":        "zz",
			"confidential_program": s.program.String(),
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("public read", func() {
		rec := s.do(http.MethodGet, "/payrolls/"+p.Address.String(), nil, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal(p.Address, decode[PayrollResponse](s, rec).Address)
	})
}

func (s *HandlerSuite) TestEmployeeLifecycle() {
	p := s.initialize()

	rec := s.addEmployee(p.Address, "emp-001", nil)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	e := decode[EmployeeResponse](s, rec)
	s.Equal(uint8(85), e.ScreeningScore, "score comes from the oracle")
	s.Equal("low", string(e.RiskLevel))
	s.True(e.IsActive)
	s.True(e.ScreeningValid)

	low := 49
	rec = s.addEmployee(p.Address, "emp-002", &low)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("screening_failed", errorBody(s, rec)["reason"])

	intruder := identity(0x99)
	rec = s.do(http.MethodPost, "/payrolls/"+p.Address.String()+"/employees/"+e.Address.String()+"/deactivate", &intruder, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rescreen := 30
	rec = s.do(http.MethodPost, "/payrolls/"+p.Address.String()+"/employees/"+e.Address.String()+"/screening", &s.employer,
		map[string]any{"screening_score": rescreen})
	s.Require().Equal(http.StatusOK, rec.Code)
	updated := decode[EmployeeResponse](s, rec)
	s.False(updated.IsActive)
	s.Equal("high", string(updated.RiskLevel))

	rec = s.do(http.MethodPost, "/payrolls/"+p.Address.String()+"/employees/"+e.Address.String()+"/deactivate", &s.employer, nil)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("employee_not_active", errorBody(s, rec)["reason"])

	rec = s.do(http.MethodGet, "/payrolls/"+p.Address.String()+"/employees", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Len(decode[EmployeeListResponse](s, rec).Employees, 1)
}

func (s *HandlerSuite) TestAddEmployeeIdentityBounds() {
	p := s.initialize()
	path := "/payrolls/" + p.Address.String() + "/employees"
	body := func(id, name string) map[string]any {
		return map[string]any{
			"employee_id":          id,
			"name":                 name,
			"wallet":               s.wallet.String(),
			"salary_amount":        1_000,
			"confidential_account": s.empAccount.String(),
		}
	}

	s.Run("empty id is accepted", func() {
		rec := s.do(http.MethodPost, path, &s.employer, body("", "Ada"))
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
		s.Equal("", decode[EmployeeResponse](s, rec).EmployeeID)
	})

	for _, n := range []int{65, 257, 4096} {
		s.Run("id of "+strconv.Itoa(n)+" bytes", func() {
			rec := s.do(http.MethodPost, path, &s.employer, body(strings.Repeat("i", n), "Ada"))
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal("employee_id_too_long", errorBody(s, rec)["reason"])
		})
	}

	for _, n := range []int{129, 513} {
		s.Run("name of "+strconv.Itoa(n)+" bytes", func() {
			rec := s.do(http.MethodPost, path, &s.employer, body("emp-name", strings.Repeat("n", n)))
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal("employee_name_too_long", errorBody(s, rec)["reason"])
		})
	}

	s.Run("oversized id from a stranger is forbidden", func() {
		intruder := identity(0x98)
		rec := s.do(http.MethodPost, path, &intruder, body(strings.Repeat("i", 1024), "Ada"))
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestPaymentAndVerification() {
	p := s.initialize()
	rec := s.addEmployee(p.Address, "emp-001", nil)
	s.Require().Equal(http.StatusCreated, rec.Code)
	e := decode[EmployeeResponse](s, rec)
	paymentsPath := "/payrolls/" + p.Address.String() + "/employees/" + e.Address.String() + "/payments"

	rec = s.do(http.MethodPost, paymentsPath, &s.employer, s.paymentBody(5_000_000_001))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("tax_exceeds_salary", errorBody(s, rec)["reason"])

	rec = s.do(http.MethodPost, paymentsPath, &s.employer, s.paymentBody(750_000_000))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[PaymentResponse](s, rec)
	s.Equal("issued", string(payment.Status))
	s.Nil(payment.VerifiedAt)
	s.NotContains(rec.Body.String(), "amount")

	verifier := identity(0x88)
	verifyPath := "/payments/" + payment.Address.String() + "/verify"

	rec = s.do(http.MethodPost, verifyPath, &verifier, map[string]any{"tax_confidential_account": identity(0xEE).String()})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Equal("invalid_confidential_account", errorBody(s, rec)["reason"])

	s.registry.Register(s.taxAccount, 286, confidential.ProofStatusAccepted)
	rec = s.do(http.MethodPost, verifyPath, &verifier, map[string]any{"tax_confidential_account": s.taxAccount.String()})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[PaymentResponse](s, rec)
	s.Equal("verified", string(verified.Status))
	s.Require().NotNil(verified.Verifier)
	s.Equal(verifier, *verified.Verifier)

	rec = s.do(http.MethodPost, verifyPath, &verifier, map[string]any{"tax_confidential_account": s.taxAccount.String()})
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("already_verified", errorBody(s, rec)["reason"])

	rec = s.do(http.MethodGet, "/employees/"+e.Address.String()+"/payments", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Len(decode[PaymentListResponse](s, rec).Payments, 1)
}

func (s *HandlerSuite) TestDeriveAddress() {
	p := s.initialize()

	rec := s.do(http.MethodGet, "/addresses/payroll?authority="+s.employer.String(), nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(p.Address, decode[AddressResponse](s, rec).Address)

	rec = s.do(http.MethodGet, "/addresses/employee?payroll="+p.Address.String()+"&employee_id=emp-001", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	derived := decode[AddressResponse](s, rec).Address

	rec = s.addEmployee(p.Address, "emp-001", nil)
	s.Require().Equal(http.StatusCreated, rec.Code)
	s.Equal(derived, decode[EmployeeResponse](s, rec).Address)

	rec = s.do(http.MethodGet, "/addresses/payment?employee="+derived.String()+"&timestamp=abc", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/addresses/vault", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestScreenWallet() {
	s.oracle.Set(s.wallet, 40)
	caller := identity(0x01)
	rec := s.do(http.MethodGet, "/screening/"+s.wallet.String(), &caller, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	resp := decode[ScreeningResponse](s, rec)
	s.Equal(uint8(40), resp.Score)
	s.False(resp.Passes)
}

func (s *HandlerSuite) TestAdminAudit() {
	p := s.initialize()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?subject="+p.Address.String(), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/audit?subject="+p.Address.String(), nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)
	events := decode[AuditListResponse](s, rec).Events
	s.Require().Len(events, 1)
	s.Equal("payroll_initialized", events[0].Action)
	s.Equal(s.employer.String(), events[0].ActorID)

	req = httptest.NewRequest(http.MethodGet, "/admin/audit?limit=0", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) adminPut(path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPut, path, body)
	req.Header.Set("X-Admin-Token", testAdminToken)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestAdminRegistersConfidentialAccount() {
	accountPath := "/admin/confidential/accounts/" + s.taxAccount.String()

	s.Run("requires the admin token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, accountPath, map[string]any{})
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("rejects an unknown proof status", func() {
		rec := s.adminPut(accountPath, map[string]any{"proof_status": "pending"})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects a negative data length", func() {
		rec := s.adminPut(accountPath, map[string]any{"data_len": -1})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("registered account unlocks verification", func() {
		p := s.initialize()
		rec := s.addEmployee(p.Address, "emp-001", nil)
		s.Require().Equal(http.StatusCreated, rec.Code)
		e := decode[EmployeeResponse](s, rec)

		rec = s.do(http.MethodPost, "/payrolls/"+p.Address.String()+"/employees/"+e.Address.String()+"/payments",
			&s.employer, s.paymentBody(750_000_000))
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
		payment := decode[PaymentResponse](s, rec)

		rec = s.adminPut(accountPath, map[string]any{})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		state := decode[confidential.AccountState](s, rec)
		s.True(state.HoldsData())
		s.Equal(confidential.ProofStatusAccepted, state.ProofStatus)

		verifier := identity(0x88)
		rec = s.do(http.MethodPost, "/payments/"+payment.Address.String()+"/verify", &verifier,
			map[string]any{"tax_confidential_account": s.taxAccount.String()})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.Equal("verified", string(decode[PaymentResponse](s, rec).Status))
	})

	s.Run("insufficient funds verdict blocks verification", func() {
		other := identity(0xAB)
		rec := s.adminPut("/admin/confidential/accounts/"+other.String(),
			map[string]any{"data_len": 286, "proof_status": "insufficient_funds"})
		s.Require().Equal(http.StatusOK, rec.Code)
		state, err := s.registry.Inspect(context.Background(), other)
		s.Require().NoError(err)
		s.Equal(confidential.ProofStatusInsufficientFunds, state.ProofStatus)
		s.Equal(286, state.DataLen)
	})
}

func (s *HandlerSuite) TestUnknownRecordsAreNotFound() {
	rec := s.do(http.MethodGet, "/payments/"+identity(0x42).String(), nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("payment_not_found", errorBody(s, rec)["reason"])

	rec = s.do(http.MethodGet, "/employees/not-hex", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}
