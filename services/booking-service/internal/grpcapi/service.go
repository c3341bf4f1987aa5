// Package grpcapi is the staff booking dialog: a gRPC service with a
// hand-declared descriptor carried over the JSON codec.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "barberdesk.booking.v1.StaffBooking"

const (
	MethodComputeSlots     = "/" + ServiceName + "/ComputeSlots"
	MethodTryBook          = "/" + ServiceName + "/TryBook"
	MethodListAppointments = "/" + ServiceName + "/ListAppointments"
	MethodUpdateStatus     = "/" + ServiceName + "/UpdateStatus"
)

type StaffBookingServer interface {
	ComputeSlots(ctx context.Context, req *ComputeSlotsRequest) (*ComputeSlotsResponse, error)
	TryBook(ctx context.Context, req *TryBookRequest) (*TryBookResponse, error)
	ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error)
	UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*UpdateStatusResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StaffBookingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ComputeSlots", StaffBookingServer.ComputeSlots),
		unaryMethod("TryBook", StaffBookingServer.TryBook),
		unaryMethod("ListAppointments", StaffBookingServer.ListAppointments),
		unaryMethod("UpdateStatus", StaffBookingServer.UpdateStatus),
	},
	Metadata: "barberdesk/booking/v1/staff_booking",
}

func RegisterStaffBookingServer(s grpc.ServiceRegistrar, srv StaffBookingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(StaffBookingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StaffBookingServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// Client calls StaffBooking over conn, which must use the JSON codec
// (libs/grpcx.Dial sets it).
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) ComputeSlots(ctx context.Context, req *ComputeSlotsRequest, opts ...grpc.CallOption) (*ComputeSlotsResponse, error) {
	out := new(ComputeSlotsResponse)
	if err := c.conn.Invoke(ctx, MethodComputeSlots, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TryBook(ctx context.Context, req *TryBookRequest, opts ...grpc.CallOption) (*TryBookResponse, error) {
	out := new(TryBookResponse)
	if err := c.conn.Invoke(ctx, MethodTryBook, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAppointments(ctx context.Context, req *ListAppointmentsRequest, opts ...grpc.CallOption) (*ListAppointmentsResponse, error) {
	out := new(ListAppointmentsResponse)
	if err := c.conn.Invoke(ctx, MethodListAppointments, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*UpdateStatusResponse, error) {
	out := new(UpdateStatusResponse)
	if err := c.conn.Invoke(ctx, MethodUpdateStatus, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
