package models

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"paygate/internal/payroll/address"
	"paygate/pkg/platform/sentinel"
)

// Kind identifies the record type stored at an address.
type Kind uint8

const (
	KindPayroll  Kind = 1
	KindEmployee Kind = 2
	KindPayment  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPayroll:
		return "payroll"
	case KindEmployee:
		return "employee"
	case KindPayment:
		return "payment"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// DiscriminatorSize is the length of the record type prefix.
const DiscriminatorSize = 8

// Encoded sizes. Employee is variable because of its two strings.
const (
	PayrollRecordSize    = DiscriminatorSize + 32 + 32 + 2 + 32 + 4 + 8
	PaymentRecordSize    = DiscriminatorSize + 32 + 8 + 32 + 32 + 1 + 8 + 32
	EmployeeRecordMaxLen = DiscriminatorSize + 32 + 4 + MaxEmployeeIDLen + 4 + MaxEmployeeNameLen +
		32 + 32 + 1 + 8 + 1 + 32 + 1
)

var discriminators = map[Kind][DiscriminatorSize]byte{
	KindPayroll:  discriminator("payroll"),
	KindEmployee: discriminator("employee"),
	KindPayment:  discriminator("payment"),
}

func discriminator(name string) [DiscriminatorSize]byte {
	sum := blake3.Sum256([]byte("paygate:record:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// KindOf reads the discriminator of an encoded record.
func KindOf(data []byte) (Kind, error) {
	if len(data) < DiscriminatorSize {
		return 0, fmt.Errorf("record shorter than discriminator: %w", sentinel.ErrInvalidState)
	}
	for kind, d := range discriminators {
		if string(d[:]) == string(data[:DiscriminatorSize]) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown record discriminator: %w", sentinel.ErrInvalidState)
}

// EncodePayroll returns the fixed-width layout of p.
func EncodePayroll(p *Payroll) []byte {
	w := newLayoutWriter(KindPayroll, PayrollRecordSize)
	w.address(p.Authority)
	w.address(p.TaxAuthority)
	w.u16(p.TaxRateBps)
	w.address(p.ConfidentialProgram)
	w.u32(p.EmployeeCount)
	w.u64(p.PaymentCount)
	return w.buf
}

// DecodePayroll parses a payroll record stored at addr.
func DecodePayroll(addr address.Address, data []byte) (*Payroll, error) {
	r, err := newLayoutReader(KindPayroll, data)
	if err != nil {
		return nil, err
	}
	p := &Payroll{Address: addr}
	p.Authority = r.address()
	p.TaxAuthority = r.address()
	p.TaxRateBps = r.u16()
	p.ConfidentialProgram = r.address()
	p.EmployeeCount = r.u32()
	p.PaymentCount = r.u64()
	if err := r.finish(); err != nil {
		return nil, err
	}
	if p.TaxRateBps > MaxTaxRateBps {
		return nil, fmt.Errorf("decode payroll: tax rate %d out of range: %w", p.TaxRateBps, sentinel.ErrInvalidState)
	}
	return p, nil
}

// EncodeEmployee returns the length-prefixed layout of e.
func EncodeEmployee(e *Employee) []byte {
	w := newLayoutWriter(KindEmployee, EmployeeRecordMaxLen)
	w.address(e.Payroll)
	w.str(e.EmployeeID)
	w.str(e.Name)
	w.address(e.Wallet)
	w.raw(e.SalaryCommitment[:])
	w.u8(e.ScreeningScore)
	w.i64(e.LastScreened)
	w.boolean(e.IsActive)
	w.address(e.ConfidentialAccount)
	w.u8(e.Bump)
	return w.buf
}

// DecodeEmployee parses an employee record stored at addr.
func DecodeEmployee(addr address.Address, data []byte) (*Employee, error) {
	r, err := newLayoutReader(KindEmployee, data)
	if err != nil {
		return nil, err
	}
	e := &Employee{Address: addr}
	e.Payroll = r.address()
	e.EmployeeID = r.str(MaxEmployeeIDLen)
	e.Name = r.str(MaxEmployeeNameLen)
	e.Wallet = r.address()
	copy(e.SalaryCommitment[:], r.take(32))
	e.ScreeningScore = r.u8()
	e.LastScreened = r.i64()
	e.IsActive = r.boolean()
	e.ConfidentialAccount = r.address()
	e.Bump = r.u8()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodePayment returns the fixed-width layout of rec.
func EncodePayment(rec *PaymentRecord) []byte {
	w := newLayoutWriter(KindPayment, PaymentRecordSize)
	w.address(rec.Employee)
	w.i64(rec.Timestamp)
	w.address(rec.TaxConfidentialAccount)
	w.address(rec.EmployeeConfidentialAccount)
	w.boolean(rec.Verified)
	w.i64(rec.VerifiedAt)
	w.address(rec.Verifier)
	return w.buf
}

// DecodePayment parses a payment record stored at addr.
func DecodePayment(addr address.Address, data []byte) (*PaymentRecord, error) {
	r, err := newLayoutReader(KindPayment, data)
	if err != nil {
		return nil, err
	}
	rec := &PaymentRecord{Address: addr}
	rec.Employee = r.address()
	rec.Timestamp = r.i64()
	rec.TaxConfidentialAccount = r.address()
	rec.EmployeeConfidentialAccount = r.address()
	rec.Verified = r.boolean()
	rec.VerifiedAt = r.i64()
	rec.Verifier = r.address()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return rec, nil
}

type layoutWriter struct {
	buf []byte
}

func newLayoutWriter(kind Kind, capacity int) *layoutWriter {
	d := discriminators[kind]
	buf := make([]byte, 0, capacity)
	return &layoutWriter{buf: append(buf, d[:]...)}
}

func (w *layoutWriter) raw(b []byte) { w.buf = append(w.buf, b...) }
func (w *layoutWriter) address(a address.Address) { w.buf = append(w.buf, a[:]...) }
func (w *layoutWriter) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *layoutWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *layoutWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *layoutWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *layoutWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *layoutWriter) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *layoutWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// layoutReader records the first error and returns zero values afterwards,
// so decoders read straight through and check once in finish.
type layoutReader struct {
	kind Kind
	data []byte
	off  int
	err  error
}

func newLayoutReader(kind Kind, data []byte) (*layoutReader, error) {
	got, err := KindOf(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if got != kind {
		return nil, fmt.Errorf("decode %s: record is a %s: %w", kind, got, sentinel.ErrInvalidState)
	}
	return &layoutReader{kind: kind, data: data, off: DiscriminatorSize}, nil
}

func (r *layoutReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("decode %s: %s: %w", r.kind, fmt.Sprintf(format, args...), sentinel.ErrInvalidState)
	}
}

func (r *layoutReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if len(r.data)-r.off < n {
		r.fail("truncated at offset %d", r.off)
		return make([]byte, n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *layoutReader) address() address.Address {
	var a address.Address
	copy(a[:], r.take(address.Size))
	return a
}

func (r *layoutReader) u8() uint8 { return r.take(1)[0] }
func (r *layoutReader) u16() uint16 { return binary.LittleEndian.Uint16(r.take(2)) }
func (r *layoutReader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *layoutReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }
func (r *layoutReader) i64() int64 { return int64(r.u64()) }

func (r *layoutReader) boolean() bool {
	switch v := r.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("invalid bool byte %d", v)
		return false
	}
}

func (r *layoutReader) str(maxLen int) string {
	n := r.u32()
	if int(n) > maxLen {
		r.fail("string length %d exceeds %d", n, maxLen)
		return ""
	}
	return string(r.take(int(n)))
}

func (r *layoutReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("decode %s: %d trailing bytes: %w", r.kind, len(r.data)-r.off, sentinel.ErrInvalidState)
	}
	return nil
}
