// Command staffctl talks to booking-service over gRPC from a terminal.
//
//	staffctl slots  --staff rui --service cut --date 2026-10-20
//	staffctl book   --staff rui --service cut --date 2026-10-20 --start 10:30 --name "Ana"
//	staffctl day    --staff rui --date 2026-10-20
//	staffctl status --id <appointment id> --to cancelled --reason "no show"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/barberdesk/barberdesk/libs/grpcx"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/grpcapi"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/google/uuid"
)

type globals struct {
	addr    string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "staffctl",
		Short:         "Staff booking console for booking-service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", getenv("BOOKING_GRPC_ADDR", "localhost:9093"), "booking-service gRPC address")
	root.PersistentFlags().StringVar(&g.token, "token", getenv("STAFF_TOKEN", ""), "staff access token")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "call timeout")

	root.AddCommand(
		newSlotsCommand(g),
		newBookCommand(g),
		newDayCommand(g),
		newStatusCommand(g),
	)
	return root
}

func newSlotsCommand(g *globals) *cobra.Command {
	req := &grpcapi.ComputeSlotsRequest{}
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free start times for a barber and service on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *grpcapi.Client) (any, error) {
				return c.ComputeSlots(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.StaffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&req.ServiceID, "service", "", "service id")
	cmd.Flags().IntVar(&req.DurationMinutes, "minutes", 0, "duration in minutes when no service is given")
	cmd.Flags().StringVar(&req.Date, "date", today(), "day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func newBookCommand(g *globals) *cobra.Command {
	req := &grpcapi.TryBookRequest{}
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment for a walk-in or phone customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.IdempotencyKey == "" {
				req.IdempotencyKey = uuid.NewString()
			}
			return g.call(func(ctx context.Context, c *grpcapi.Client) (any, error) {
				return c.TryBook(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.StaffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&req.ServiceID, "service", "", "service id")
	cmd.Flags().StringVar(&req.Date, "date", today(), "day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.StartTime, "start", "", "start time (HH:MM)")
	cmd.Flags().StringVar(&req.Customer.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&req.Customer.Phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&req.Customer.Email, "email", "", "customer email")
	cmd.Flags().StringVar(&req.Customer.Notes, "notes", "", "notes for the barber")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "idempotency key (generated when empty)")
	for _, name := range []string{"staff", "service", "start", "name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newDayCommand(g *globals) *cobra.Command {
	req := &grpcapi.ListAppointmentsRequest{}
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Show a barber's appointments for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *grpcapi.Client) (any, error) {
				return c.ListAppointments(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.StaffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&req.Date, "date", today(), "day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func newStatusCommand(g *globals) *cobra.Command {
	var to string
	req := &grpcapi.UpdateStatusRequest{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Confirm, complete or cancel an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Status = model.Status(strings.ToLower(strings.TrimSpace(to)))
			return g.call(func(ctx context.Context, c *grpcapi.Client) (any, error) {
				return c.UpdateStatus(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.AppointmentID, "id", "", "appointment id")
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "cancel reason")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// call dials, runs fn under the global timeout and prints the reply as JSON.
func (g *globals) call(fn func(context.Context, *grpcapi.Client) (any, error)) error {
	if strings.TrimSpace(g.token) == "" {
		return errors.New("STAFF_TOKEN is required")
	}
	conn, err := grpcx.Dial(g.addr, grpcx.DialOptions{Token: g.token})
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	out, err := fn(ctx, grpcapi.NewClient(conn))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
