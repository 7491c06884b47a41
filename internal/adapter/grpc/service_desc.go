package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "obligations.v1.ObligationService"

// ObligationServiceServer is the server API for the obligations service.
// Requests and responses are google.protobuf.Struct documents; decimals
// travel as strings and dates as YYYY-MM-DD.
type ObligationServiceServer interface {
	CreateObligation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetObligation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListObligations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActivateObligation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteObligation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelObligation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateObligationAmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecalculateSchedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEntries(context.Context, *structpb.Struct) (*structpb.Struct, error)

	LinkEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnlinkEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RealizeEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AutoMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyAutoMatches(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDocuments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindDocumentCandidates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)

	RecordTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReverseTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncExternal(context.Context, *structpb.Struct) (*structpb.Struct, error)

	ProjectCashflow(context.Context, *structpb.Struct) (*structpb.Struct, error)

	ListAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SweepAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DismissAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SnoozeAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReopenAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type rpc func(ObligationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// RegisterObligationServiceServer registers srv on s
func RegisterObligationServiceServer(s grpc.ServiceRegistrar, srv ObligationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the obligations service for grpc.Server
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ObligationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateObligation", ObligationServiceServer.CreateObligation),
		unary("GetObligation", ObligationServiceServer.GetObligation),
		unary("ListObligations", ObligationServiceServer.ListObligations),
		unary("ActivateObligation", ObligationServiceServer.ActivateObligation),
		unary("CompleteObligation", ObligationServiceServer.CompleteObligation),
		unary("CancelObligation", ObligationServiceServer.CancelObligation),
		unary("UpdateObligationAmount", ObligationServiceServer.UpdateObligationAmount),
		unary("GenerateSchedule", ObligationServiceServer.GenerateSchedule),
		unary("RecalculateSchedule", ObligationServiceServer.RecalculateSchedule),
		unary("ListEntries", ObligationServiceServer.ListEntries),
		unary("LinkEntry", ObligationServiceServer.LinkEntry),
		unary("UnlinkEntry", ObligationServiceServer.UnlinkEntry),
		unary("RealizeEntry", ObligationServiceServer.RealizeEntry),
		unary("AutoMatch", ObligationServiceServer.AutoMatch),
		unary("ApplyAutoMatches", ObligationServiceServer.ApplyAutoMatches),
		unary("CreateDocument", ObligationServiceServer.CreateDocument),
		unary("GetDocument", ObligationServiceServer.GetDocument),
		unary("ListDocuments", ObligationServiceServer.ListDocuments),
		unary("SendDocument", ObligationServiceServer.SendDocument),
		unary("CancelDocument", ObligationServiceServer.CancelDocument),
		unary("FindDocumentCandidates", ObligationServiceServer.FindDocumentCandidates),
		unary("ReconcileDocument", ObligationServiceServer.ReconcileDocument),
		unary("RecordTransaction", ObligationServiceServer.RecordTransaction),
		unary("ReverseTransaction", ObligationServiceServer.ReverseTransaction),
		unary("ListTransactions", ObligationServiceServer.ListTransactions),
		unary("IngestTransactions", ObligationServiceServer.IngestTransactions),
		unary("SyncExternal", ObligationServiceServer.SyncExternal),
		unary("ProjectCashflow", ObligationServiceServer.ProjectCashflow),
		unary("ListAlerts", ObligationServiceServer.ListAlerts),
		unary("SweepAlerts", ObligationServiceServer.SweepAlerts),
		unary("DismissAlert", ObligationServiceServer.DismissAlert),
		unary("SnoozeAlert", ObligationServiceServer.SnoozeAlert),
		unary("ReopenAlert", ObligationServiceServer.ReopenAlert),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "obligations/v1/obligations.proto",
}

// FullMethod returns the "/service/method" path of an RPC
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string, call rpc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ObligationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ObligationServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
