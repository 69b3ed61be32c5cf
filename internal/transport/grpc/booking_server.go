package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/service/booking"
	"agenda/backend/internal/store"
)

const (
	serviceName       = "agenda.v1.Booking"
	listSlotsMethod   = "/" + serviceName + "/ListSlots"
	bookSlotMethod    = "/" + serviceName + "/BookSlot"
	slotTakenMessage  = "This slot is no longer available. Refresh availability and pick another time."
	idempotencyReused = "This request key was already used for a different booking. Try again."
)

type bookingService interface {
	ListSlots(ctx context.Context, in booking.ListSlotsInput) (booking.ListSlotsResult, error)
	Book(ctx context.Context, in booking.BookInput) (domain.Booking, error)
}

// BookingServer serves agenda.v1.Booking. Requests and responses are
// google.protobuf.Struct documents shaped like the HTTP API bodies.
type BookingServer struct {
	svc bookingService
	log *zap.Logger
}

type bookingRPC interface {
	ListSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BookSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func NewBookingServer(svc bookingService, log *zap.Logger) *BookingServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingServer{
		svc: svc,
		log: log.With(zap.String("component", "grpc.booking")),
	}
}

func RegisterBookingServer(s grpc.ServiceRegistrar, srv *BookingServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*bookingRPC)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSlots", Handler: listSlotsHandler},
		{MethodName: "BookSlot", Handler: bookSlotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agenda/v1/booking.proto",
}

func listSlotsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bookingRPC).ListSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listSlotsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bookingRPC).ListSlots(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func bookSlotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bookingRPC).BookSlot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: bookSlotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bookingRPC).BookSlot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *BookingServer) ListSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(zap.String("rpc", "ListSlots"))

	if req == nil {
		log.Warn("invalid request", zap.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	in := booking.ListSlotsInput{
		Slug:      stringField(req, "slug"),
		StartDate: stringField(req, "startDate"),
		EndDate:   stringField(req, "endDate"),
	}
	res, err := s.svc.ListSlots(ctx, in)
	if err != nil {
		return nil, s.statusError(log, err, zap.String("slug", in.Slug))
	}

	slots := make([]any, 0, len(res.Slots))
	for _, slot := range res.Slots {
		slots = append(slots, map[string]any{
			"start":            slot.Start.UTC().Format(time.RFC3339),
			"end":              slot.End.UTC().Format(time.RFC3339),
			"consultationType": slot.AppointmentType,
			"duration":         slot.DurationMinutes,
			"price":            slot.Price.InexactFloat64(),
		})
	}
	out := map[string]any{"slots": slots}
	if res.Message != "" {
		out["message"] = res.Message
	}
	return newStruct(log, out)
}

func (s *BookingServer) BookSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(zap.String("rpc", "BookSlot"))

	if req == nil {
		log.Warn("invalid request", zap.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	slug := stringField(req, "slug")

	rawStart := stringField(req, "start")
	if rawStart == "" {
		log.Warn("invalid request", zap.String("reason", "missing_start"), zap.String("slug", slug))
		return nil, status.Error(codes.InvalidArgument, "start is required")
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		log.Warn("invalid request", zap.String("reason", "bad_start"), zap.String("slug", slug))
		return nil, status.Error(codes.InvalidArgument, "start must be an RFC 3339 timestamp")
	}

	in := booking.BookInput{
		Slug:             slug,
		Start:            start,
		ConsultationType: stringField(req, "consultationType"),
		DurationMinutes:  int(numberField(req, "duration")),
		FirstName:        stringField(req, "firstName"),
		LastName:         stringField(req, "lastName"),
		Email:            stringField(req, "email"),
		Phone:            stringField(req, "phone"),
		Description:      stringField(req, "description"),
		IdempotencyKey:   idempotencyKey(ctx),
	}
	if price, ok, err := priceField(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "price must be a number")
	} else if ok {
		in.Price = &price
	}

	b, err := s.svc.Book(ctx, in)
	if err != nil {
		return nil, s.statusError(log, err, zap.String("slug", slug), zap.Time("start", start))
	}

	log.Info("booking created",
		zap.String("booking_id", b.ID.String()),
		zap.String("provider_id", b.ProviderID.String()),
		zap.Time("start", b.StartAt),
		zap.Time("end", b.EndAt),
	)

	appt := map[string]any{
		"id":               b.ID.String(),
		"start":            b.StartAt.UTC().Format(time.RFC3339),
		"end":              b.EndAt.UTC().Format(time.RFC3339),
		"consultationType": b.AppointmentType,
		"status":           string(b.Status),
	}
	if b.Provider != nil {
		appt["practitionerName"] = b.Provider.DisplayName
	}
	return newStruct(log, map[string]any{"appointment": appt})
}

func (s *BookingServer) statusError(log *zap.Logger, err error, fields ...zap.Field) error {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", append(fields, zap.Error(err))...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info("provider not found", fields...)
		return status.Error(codes.NotFound, "provider not found")
	case errors.Is(err, store.ErrSlotTaken):
		log.Info("slot taken", fields...)
		return status.Error(codes.Aborted, slotTakenMessage)
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", fields...)
		return status.Error(codes.FailedPrecondition, idempotencyReused)
	default:
		log.Error("request failed", append(fields, zap.Error(err))...)
		return status.Error(codes.Internal, "internal error")
	}
}

func newStruct(log *zap.Logger, m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func stringField(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// priceField accepts a number or a decimal string.
func priceField(s *structpb.Struct) (decimal.Decimal, bool, error) {
	v, ok := s.GetFields()["price"]
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), true, nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(k.StringValue))
		if err != nil {
			return decimal.Decimal{}, false, err
		}
		return d, true, nil
	case *structpb.Value_NullValue:
		return decimal.Decimal{}, false, nil
	default:
		return decimal.Decimal{}, false, errors.New("unsupported price type")
	}
}
