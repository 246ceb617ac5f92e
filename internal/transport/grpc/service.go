package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "marketplace.scheduling.v1.SchedulingService"

// SchedulingServiceServer is the server API for SchedulingService.
type SchedulingServiceServer interface {
	GenerateSlots(context.Context, *GenerateSlotsRequest) (*GenerateSlotsResponse, error)

	CreateBooking(context.Context, *CreateBookingRequest) (*BookingResponse, error)
	CancelBooking(context.Context, *CancelBookingRequest) (*BookingResponse, error)
	GetBooking(context.Context, *GetBookingRequest) (*BookingResponse, error)
	ListClientBookings(context.Context, *ListBookingsRequest) (*ListBookingsResponse, error)
	ListProviderBookings(context.Context, *ListBookingsRequest) (*ListBookingsResponse, error)

	CreateAvailability(context.Context, *CreateAvailabilityRequest) (*AvailabilityResponse, error)
	UpdateAvailability(context.Context, *UpdateAvailabilityRequest) (*AvailabilityResponse, error)
	DeleteAvailability(context.Context, *DeleteAvailabilityRequest) (*DeleteAvailabilityResponse, error)
	ListAvailability(context.Context, *ListAvailabilityRequest) (*ListAvailabilityResponse, error)
}

var SchedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateSlots", SchedulingServiceServer.GenerateSlots),
		unary("CreateBooking", SchedulingServiceServer.CreateBooking),
		unary("CancelBooking", SchedulingServiceServer.CancelBooking),
		unary("GetBooking", SchedulingServiceServer.GetBooking),
		unary("ListClientBookings", SchedulingServiceServer.ListClientBookings),
		unary("ListProviderBookings", SchedulingServiceServer.ListProviderBookings),
		unary("CreateAvailability", SchedulingServiceServer.CreateAvailability),
		unary("UpdateAvailability", SchedulingServiceServer.UpdateAvailability),
		unary("DeleteAvailability", SchedulingServiceServer.DeleteAvailability),
		unary("ListAvailability", SchedulingServiceServer.ListAvailability),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/scheduling/v1/scheduling.json",
}

func RegisterSchedulingServiceServer(s grpc.ServiceRegistrar, srv SchedulingServiceServer) {
	s.RegisterService(&SchedulingServiceDesc, srv)
}

// FullMethod returns the "/service/method" path used by interceptors and clients.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](name string, call func(SchedulingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SchedulingClient is a thin JSON client for SchedulingService.
type SchedulingClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulingClient(cc grpc.ClientConnInterface) *SchedulingClient {
	return &SchedulingClient{cc: cc}
}

// Invoke calls method with the JSON codec selected.
func (c *SchedulingClient) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, FullMethod(method), in, out, opts...)
}
