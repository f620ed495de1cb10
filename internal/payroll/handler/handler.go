// Package handler exposes the payroll ledger over HTTP.
//
// Reads are public: every record is addressable by anyone who can derive its
// address. Mutations require a bearer token whose subject is the caller
// identity; the service decides whether that caller may act.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"paygate/internal/confidential"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	"paygate/internal/payroll/service"
	"paygate/internal/screening"
	dErrors "paygate/pkg/domain-errors"
	"paygate/pkg/platform/audit"
	"paygate/pkg/platform/httputil"
	"paygate/pkg/platform/middleware/auth"
	"paygate/pkg/requestcontext"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Service defines the ledger operations the handler drives.
type Service interface {
	Initialize(ctx context.Context, cmd service.InitializeCommand) (*models.Payroll, error)
	GetPayroll(ctx context.Context, addr address.Address) (*models.Payroll, error)
	AddEmployee(ctx context.Context, cmd service.AddEmployeeCommand) (*models.Employee, error)
	UpdateScreening(ctx context.Context, cmd service.UpdateScreeningCommand) (*models.Employee, error)
	DeactivateEmployee(ctx context.Context, payroll, employee address.Address) (*models.Employee, error)
	GetEmployee(ctx context.Context, addr address.Address) (*models.Employee, error)
	ListEmployees(ctx context.Context, payroll address.Address) ([]*models.Employee, error)
	ProcessPayment(ctx context.Context, cmd service.ProcessPaymentCommand) (*models.PaymentRecord, error)
	VerifyProof(ctx context.Context, cmd service.VerifyProofCommand) (*models.PaymentRecord, error)
	GetPayment(ctx context.Context, addr address.Address) (*models.PaymentRecord, error)
	ListPayments(ctx context.Context, employee address.Address) ([]*models.PaymentRecord, error)
	ScreenWallet(ctx context.Context, wallet address.Address) (*screening.Result, error)
	Deriver() *address.Deriver
}

// AuditReader lists stored audit events for operators.
type AuditReader interface {
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// AccountRegistry records confidential-transfer account state when the server
// runs without the external subsystem.
type AccountRegistry interface {
	Register(account address.Address, dataLen int, status confidential.ProofStatus)
	Inspect(ctx context.Context, account address.Address) (*confidential.AccountState, error)
}

// Handler wires ledger endpoints to the payroll service.
type Handler struct {
	service   Service
	auditLog  AuditReader
	validator auth.JWTValidator
	logger    *slog.Logger
	accounts  AccountRegistry
}

type Option func(*Handler)

// WithAccountRegistry mounts PUT /admin/confidential/accounts/{account} on
// the admin routes.
func WithAccountRegistry(registry AccountRegistry) Option {
	return func(h *Handler) {
		h.accounts = registry
	}
}

// New constructs a payroll handler. auditLog may be nil when the admin routes
// are not mounted.
func New(service Service, auditLog AuditReader, validator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		auditLog:  auditLog,
		validator: validator,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the public and authenticated ledger routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/payrolls/{payroll}", h.HandleGetPayroll)
	r.Get("/payrolls/{payroll}/employees", h.HandleListEmployees)
	r.Get("/employees/{employee}", h.HandleGetEmployee)
	r.Get("/employees/{employee}/payments", h.HandleListPayments)
	r.Get("/payments/{payment}", h.HandleGetPayment)
	r.Get("/addresses/{kind}", h.HandleDeriveAddress)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller(h.validator, h.logger))
		r.Post("/payrolls", h.HandleInitialize)
		r.Post("/payrolls/{payroll}/employees", h.HandleAddEmployee)
		r.Post("/payrolls/{payroll}/employees/{employee}/screening", h.HandleUpdateScreening)
		r.Post("/payrolls/{payroll}/employees/{employee}/deactivate", h.HandleDeactivateEmployee)
		r.Post("/payrolls/{payroll}/employees/{employee}/payments", h.HandleProcessPayment)
		r.Post("/payments/{payment}/verify", h.HandleVerifyProof)
		r.Get("/screening/{wallet}", h.HandleScreenWallet)
	})
}

// RegisterAdmin mounts operator routes. The caller applies the admin guard.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/audit", h.HandleListAudit)
	if h.accounts != nil {
		r.Put("/admin/confidential/accounts/{account}", h.HandleRegisterAccount)
	}
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// HandleInitialize handles POST /payrolls.
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[InitializePayrollRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	payroll, err := h.service.Initialize(ctx, service.InitializeCommand{
		TaxRateBps:          *req.TaxRateBps,
		TaxAuthority:        req.taxAuthority,
		ConfidentialProgram: req.confidentialProgram,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "initialize payroll failed", err)
		return
	}

	h.logger.InfoContext(ctx, "payroll initialized",
		"request_id", requestID,
		"payroll", payroll.Address.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, toPayrollResponse(payroll))
}

// HandleAddEmployee handles POST /payrolls/{payroll}/employees.
func (h *Handler) HandleAddEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	payroll, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddEmployeeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	employee, err := h.service.AddEmployee(ctx, service.AddEmployeeCommand{
		Payroll:             payroll,
		EmployeeID:          req.EmployeeID,
		Name:                req.Name,
		Wallet:              req.wallet,
		SalaryCommitment:    req.commitment,
		ScreeningScore:      req.ScreeningScore,
		ConfidentialAccount: req.confidentialAccount,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "add employee failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEmployeeResponse(employee, requestcontext.Now(ctx)))
}

// HandleUpdateScreening handles POST /payrolls/{payroll}/employees/{employee}/screening.
func (h *Handler) HandleUpdateScreening(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	payroll, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	employeeAddr, ok := h.pathAddress(w, r, "employee")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateScreeningRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	employee, err := h.service.UpdateScreening(ctx, service.UpdateScreeningCommand{
		Payroll:  payroll,
		Employee: employeeAddr,
		NewScore: req.ScreeningScore,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "update screening failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEmployeeResponse(employee, requestcontext.Now(ctx)))
}

// HandleDeactivateEmployee handles POST /payrolls/{payroll}/employees/{employee}/deactivate.
func (h *Handler) HandleDeactivateEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payroll, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	employeeAddr, ok := h.pathAddress(w, r, "employee")
	if !ok {
		return
	}

	employee, err := h.service.DeactivateEmployee(ctx, payroll, employeeAddr)
	if err != nil {
		h.writeServiceError(ctx, w, "deactivate employee failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEmployeeResponse(employee, requestcontext.Now(ctx)))
}

// HandleProcessPayment handles POST /payrolls/{payroll}/employees/{employee}/payments.
func (h *Handler) HandleProcessPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	payroll, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	employee, ok := h.pathAddress(w, r, "employee")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ProcessPaymentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	timestamp := requestcontext.Now(ctx).Unix()
	if req.PaymentTimestamp != nil {
		timestamp = *req.PaymentTimestamp
	}

	record, err := h.service.ProcessPayment(ctx, service.ProcessPaymentCommand{
		Payroll:                     payroll,
		Employee:                    employee,
		SalaryAmount:                req.SalaryAmount,
		TaxAmount:                   req.TaxAmount,
		PaymentTimestamp:            timestamp,
		EmployerConfidentialAccount: req.employerAccount,
		TaxConfidentialAccount:      req.taxAccount,
		EmployeeConfidentialAccount: req.employeeAccount,
		ConfidentialProgram:         req.program,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "process payment failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPaymentResponse(record))
}

// HandleVerifyProof handles POST /payments/{payment}/verify.
func (h *Handler) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	payment, ok := h.pathAddress(w, r, "payment")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.VerifyProof(ctx, service.VerifyProofCommand{
		Payment:                payment,
		TaxConfidentialAccount: req.taxAccount,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "verify proof failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPaymentResponse(record))
}

// HandleScreenWallet handles GET /screening/{wallet}.
func (h *Handler) HandleScreenWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wallet, ok := h.pathAddress(w, r, "wallet")
	if !ok {
		return
	}
	result, err := h.service.ScreenWallet(ctx, wallet)
	if err != nil {
		h.writeServiceError(ctx, w, "screening lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScreeningResponse(result))
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (h *Handler) HandleGetPayroll(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	payroll, err := h.service.GetPayroll(r.Context(), addr)
	if err != nil {
		h.writeServiceError(r.Context(), w, "get payroll failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPayrollResponse(payroll))
}

func (h *Handler) HandleListEmployees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, ok := h.pathAddress(w, r, "payroll")
	if !ok {
		return
	}
	employees, err := h.service.ListEmployees(ctx, addr)
	if err != nil {
		h.writeServiceError(ctx, w, "list employees failed", err)
		return
	}
	now := requestcontext.Now(ctx)
	resp := &EmployeeListResponse{Employees: make([]*EmployeeResponse, 0, len(employees))}
	for _, e := range employees {
		resp.Employees = append(resp.Employees, toEmployeeResponse(e, now))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, ok := h.pathAddress(w, r, "employee")
	if !ok {
		return
	}
	employee, err := h.service.GetEmployee(ctx, addr)
	if err != nil {
		h.writeServiceError(ctx, w, "get employee failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEmployeeResponse(employee, requestcontext.Now(ctx)))
}

func (h *Handler) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, ok := h.pathAddress(w, r, "employee")
	if !ok {
		return
	}
	records, err := h.service.ListPayments(ctx, addr)
	if err != nil {
		h.writeServiceError(ctx, w, "list payments failed", err)
		return
	}
	resp := &PaymentListResponse{Payments: make([]*PaymentResponse, 0, len(records))}
	for _, rec := range records {
		resp.Payments = append(resp.Payments, toPaymentResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r, "payment")
	if !ok {
		return
	}
	record, err := h.service.GetPayment(r.Context(), addr)
	if err != nil {
		h.writeServiceError(r.Context(), w, "get payment failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPaymentResponse(record))
}

// HandleDeriveAddress handles GET /addresses/{kind}:
//
//	/addresses/payroll?authority=<hex>
//	/addresses/employee?payroll=<hex>&employee_id=<id>
//	/addresses/payment?employee=<hex>&timestamp=<unix>
func (h *Handler) HandleDeriveAddress(w http.ResponseWriter, r *http.Request) {
	d := h.service.Deriver()
	q := r.URL.Query()
	kind := chi.URLParam(r, "kind")

	var derived address.Address
	switch kind {
	case "payroll":
		authority, err := parseAddress("authority", q.Get("authority"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		derived = d.Payroll(authority)
	case "employee":
		payroll, err := parseAddress("payroll", q.Get("payroll"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		employeeID := q.Get("employee_id")
		if err := models.ValidateEmployeeIdentity(employeeID, ""); err != nil {
			httputil.WriteError(w, err)
			return
		}
		derived = d.Employee(payroll, employeeID)
	case "payment":
		employee, err := parseAddress("employee", q.Get("employee"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "timestamp must be unix seconds"))
			return
		}
		derived = d.Payment(employee, ts)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown address kind"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &AddressResponse{
		Kind:          kind,
		Address:       derived,
		SchemeVersion: address.SchemeVersion,
	})
}

// HandleListAudit handles GET /admin/audit?subject=<hex>&limit=<n>.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auditLog == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "audit log not configured"))
		return
	}

	var (
		events []audit.Event
		err    error
	)
	if subject := r.URL.Query().Get("subject"); subject != "" {
		addr, perr := parseAddress("subject", subject)
		if perr != nil {
			httputil.WriteError(w, perr)
			return
		}
		events, err = h.auditLog.ListBySubject(ctx, addr.String())
	} else {
		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n <= 0 || n > maxAuditLimit {
				httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be within 1..1000"))
				return
			}
			limit = n
		}
		events, err = h.auditLog.ListRecent(ctx, limit)
	}
	if err != nil {
		h.writeServiceError(ctx, w, "list audit events failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditListResponse(events))
}

// HandleRegisterAccount handles PUT /admin/confidential/accounts/{account}.
func (h *Handler) HandleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	account, ok := h.pathAddress(w, r, "account")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegisterAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	h.accounts.Register(account, req.dataLen, req.status)
	state, err := h.accounts.Inspect(ctx, account)
	if err != nil {
		h.writeServiceError(ctx, w, "inspect registered account failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read account"))
		return
	}

	h.logger.InfoContext(ctx, "confidential account registered",
		"request_id", requestID,
		"account", account.String(),
		"proof_status", string(state.ProofStatus),
	)
	httputil.WriteJSON(w, http.StatusOK, state)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *Handler) pathAddress(w http.ResponseWriter, r *http.Request, param string) (address.Address, bool) {
	a, err := address.Parse(chi.URLParam(r, param))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, param+" must be a 32-byte hex address"))
		return address.Zero, false
	}
	return a, true
}

// writeServiceError logs at a level matching the error class and writes the
// mapped response. Client errors are warnings; everything else is an error.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := httputil.StatusForCode(dErrors.GetCode(err))
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"status", status,
		"reason", dErrors.GetReason(err),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
