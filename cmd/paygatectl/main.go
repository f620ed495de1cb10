// paygatectl is the operator companion to the paygate server. It derives
// record addresses offline, mints caller tokens for development and builds
// placeholder salary commitments.
//
//	paygatectl address payroll --authority <hex>
//	paygatectl address employee --payroll <hex> --employee-id <id>
//	paygatectl address payment --employee <hex> --timestamp <unix>
//	paygatectl token --caller <hex> [--ttl 1h]
//	paygatectl commitment --amount <micros>
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	jwttoken "paygate/internal/jwt_token"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
)

const usage = `usage: paygatectl <command> [flags]

commands:
  address payroll|employee|payment   derive a record address
  token                              mint a caller token
  commitment                         build a placeholder salary commitment
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return nil
	}
	switch args[0] {
	case "address":
		return runAddress(args[1:], stdout)
	case "token":
		return runToken(args[1:], stdout)
	case "commitment":
		return runCommitment(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// namespaceFlag adds --namespace, defaulting to PAYGATE_ADDRESS_NAMESPACE so
// the CLI derives the same addresses as a server started from the same
// environment.
func namespaceFlag(fs *pflag.FlagSet) *string {
	return fs.String("namespace", os.Getenv("PAYGATE_ADDRESS_NAMESPACE"), "address derivation namespace")
}

func deriver(namespace string) (*address.Deriver, error) {
	if namespace == "" {
		return address.Default(), nil
	}
	return address.NewDeriver(namespace)
}

func runAddress(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("address requires a kind: payroll, employee or payment")
	}
	kind := args[0]
	fs := pflag.NewFlagSet("address "+kind, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	namespace := namespaceFlag(fs)

	var derive func(d *address.Deriver) (address.Address, error)
	switch kind {
	case "payroll":
		authority := fs.String("authority", "", "employer identity (hex)")
		derive = func(d *address.Deriver) (address.Address, error) {
			a, err := address.Parse(*authority)
			if err != nil {
				return address.Zero, fmt.Errorf("--authority: %w", err)
			}
			return d.Payroll(a), nil
		}
	case "employee":
		payroll := fs.String("payroll", "", "payroll address (hex)")
		employeeID := fs.String("employee-id", "", "employer-assigned employee id")
		derive = func(d *address.Deriver) (address.Address, error) {
			p, err := address.Parse(*payroll)
			if err != nil {
				return address.Zero, fmt.Errorf("--payroll: %w", err)
			}
			if err := models.ValidateEmployeeIdentity(*employeeID, ""); err != nil {
				return address.Zero, err
			}
			return d.Employee(p, *employeeID), nil
		}
	case "payment":
		employee := fs.String("employee", "", "employee address (hex)")
		timestamp := fs.Int64("timestamp", 0, "payment timestamp (unix seconds)")
		derive = func(d *address.Deriver) (address.Address, error) {
			e, err := address.Parse(*employee)
			if err != nil {
				return address.Zero, fmt.Errorf("--employee: %w", err)
			}
			if !fs.Changed("timestamp") {
				return address.Zero, errors.New("--timestamp is required")
			}
			return d.Payment(e, *timestamp), nil
		}
	default:
		return fmt.Errorf("unknown address kind %q", kind)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	d, err := deriver(*namespace)
	if err != nil {
		return err
	}
	addr, err := derive(d)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, addr.String())
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	caller := fs.String("caller", "", "caller identity (hex)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	key := fs.String("signing-key", os.Getenv("JWT_SIGNING_KEY"), "HMAC signing key")
	issuer := fs.String("issuer", envOr("JWT_ISSUER", "paygate"), "token issuer")
	audience := fs.String("audience", envOr("JWT_AUDIENCE", "paygate-api"), "token audience")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *key == "" {
		return errors.New("--signing-key or JWT_SIGNING_KEY is required")
	}
	identity, err := address.Parse(*caller)
	if err != nil {
		return fmt.Errorf("--caller: %w", err)
	}
	if identity.IsZero() {
		return errors.New("--caller must not be the zero identity")
	}

	token, err := jwttoken.NewJWTService(*key, *issuer, *audience).GenerateCallerToken(identity, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func runCommitment(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("commitment", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	amount := fs.Uint64("amount", 0, "salary amount in micro-units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !fs.Changed("amount") {
		return errors.New("--amount is required")
	}
	fmt.Fprintln(stdout, models.PlaceholderCommitment(*amount).String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
