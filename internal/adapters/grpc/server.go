package grpc

import (
	"context"
	"encoding/base64"
	"errors"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/chainraise/internal/application"
	"github.com/viralforge/chainraise/internal/domain"
)

const serviceName = "chainraise.v1.CampaignQueryService"

// CampaignQueryService exposes the read side of the registry to internal callers.
type CampaignQueryService interface {
	GetCampaign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLastCampaignID(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetContribution(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type CampaignQueryServer struct {
	service *application.Service
}

func NewCampaignQueryServer(service *application.Service) *CampaignQueryServer {
	return &CampaignQueryServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc CampaignQueryService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*CampaignQueryService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetCampaign", Handler: unaryHandler("GetCampaign", func() *structpb.Struct { return &structpb.Struct{} }, svc.GetCampaign)},
			{MethodName: "GetLastCampaignID", Handler: unaryHandler("GetLastCampaignID", func() *emptypb.Empty { return &emptypb.Empty{} }, svc.GetLastCampaignID)},
			{MethodName: "GetContribution", Handler: unaryHandler("GetContribution", func() *structpb.Struct { return &structpb.Struct{} }, svc.GetContribution)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "chainraise/v1/campaign_query.proto",
	}, svc)
}

func (s *CampaignQueryServer) GetCampaign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := campaignIDField(req)
	if err != nil {
		return nil, err
	}
	c, err := s.service.GetCampaign(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"campaign_id": float64(c.ID),
		"creator":     c.Creator,
		"asset":       c.Asset,
		"native":      c.IsNative(),
		"goal":        domain.CloneAmount(c.Goal).String(),
		"raised":      domain.CloneAmount(c.Raised).String(),
		"deadline":    float64(c.Deadline.Unix()),
		"description": base64.StdEncoding.EncodeToString(c.Description),
		"closed":      c.Closed,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *CampaignQueryServer) GetLastCampaignID(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := s.service.LastCampaignID(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{"last_campaign_id": float64(id)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *CampaignQueryServer) GetContribution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := campaignIDField(req)
	if err != nil {
		return nil, err
	}
	funder := domain.NormalizePrincipal(req.GetFields()["funder"].GetStringValue())
	if funder == "" {
		return nil, status.Error(codes.InvalidArgument, "missing funder")
	}
	amount, err := s.service.GetContribution(ctx, id, funder)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"campaign_id": float64(id),
		"funder":      funder,
		"amount":      amount.String(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// campaignIDField reads campaign_id as a JSON number; ids past 2^53 are not
// representable in a Struct and are rejected.
func campaignIDField(req *structpb.Struct) (uint64, error) {
	v := req.GetFields()["campaign_id"]
	if v == nil {
		return 0, status.Error(codes.InvalidArgument, "missing campaign_id")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 1 || n.NumberValue > 1<<53 || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Error(codes.InvalidArgument, "campaign_id must be a positive integer")
	}
	return uint64(n.NumberValue), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "campaign not found")
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Errorf(codes.Internal, "query failed: %v", err)
	}
}

func unaryHandler[Req any](method string, newReq func() Req, call func(context.Context, Req) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
