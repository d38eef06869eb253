package backend

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatabc/open-safe-frame/internal/wire"
)

// AnalysisServiceName is the gRPC service an out-of-process analysis backend implements.
const AnalysisServiceName = "safeframe.v1.AnalysisService"

const (
	analyzeIntentMethod      = "/" + AnalysisServiceName + "/AnalyzeIntent"
	analyzeConsequenceMethod = "/" + AnalysisServiceName + "/AnalyzeConsequence"
	synthesizeDecisionMethod = "/" + AnalysisServiceName + "/SynthesizeDecision"
	extractConstraintsMethod = "/" + AnalysisServiceName + "/ExtractConstraints"
)

// GRPCAnalyzer calls a remote AnalysisService. Unimplemented methods map to ErrNoBackend.
type GRPCAnalyzer struct {
	cc grpc.ClientConnInterface
}

func NewGRPCAnalyzer(cc grpc.ClientConnInterface) *GRPCAnalyzer {
	return &GRPCAnalyzer{cc: cc}
}

func (g *GRPCAnalyzer) AnalyzeIntent(ctx context.Context, req *Request) (*IntentResult, error) {
	return remoteCall[IntentResult](ctx, g.cc, analyzeIntentMethod, req)
}

func (g *GRPCAnalyzer) AnalyzeConsequence(ctx context.Context, req *Request) (*ConsequenceResult, error) {
	return remoteCall[ConsequenceResult](ctx, g.cc, analyzeConsequenceMethod, req)
}

func (g *GRPCAnalyzer) SynthesizeDecision(ctx context.Context, req *Request) (*DecisionResult, error) {
	return remoteCall[DecisionResult](ctx, g.cc, synthesizeDecisionMethod, req)
}

func (g *GRPCAnalyzer) ExtractConstraints(ctx context.Context, req *Request) (*ConstraintResult, error) {
	return remoteCall[ConstraintResult](ctx, g.cc, extractConstraintsMethod, req)
}

func remoteCall[T any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Request) (*T, error) {
	out := new(T)
	if err := cc.Invoke(ctx, method, req, out, wire.CallOption()); err != nil {
		if status.Code(err) == codes.Unimplemented {
			return nil, ErrNoBackend
		}
		return nil, err
	}
	return out, nil
}

// RegisterAnalysisServer exposes a on s, so one process can serve analysis for others.
func RegisterAnalysisServer(s grpc.ServiceRegistrar, a Analyzer) {
	s.RegisterService(&analysisServiceDesc, a)
}

func analysisHandler[T any](method string, call func(Analyzer, context.Context, *Request) (*T, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Request)
		if err := dec(in); err != nil {
			return nil, err
		}
		handle := func(ctx context.Context, req any) (any, error) {
			out, err := call(srv.(Analyzer), ctx, req.(*Request))
			if errors.Is(err, ErrNoBackend) {
				return nil, status.Error(codes.Unimplemented, err.Error())
			}
			return out, err
		}
		if interceptor == nil {
			return handle(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handle)
	}
}

var analysisServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisServiceName,
	HandlerType: (*Analyzer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeIntent", Handler: analysisHandler(analyzeIntentMethod, Analyzer.AnalyzeIntent)},
		{MethodName: "AnalyzeConsequence", Handler: analysisHandler(analyzeConsequenceMethod, Analyzer.AnalyzeConsequence)},
		{MethodName: "SynthesizeDecision", Handler: analysisHandler(synthesizeDecisionMethod, Analyzer.SynthesizeDecision)},
		{MethodName: "ExtractConstraints", Handler: analysisHandler(extractConstraintsMethod, Analyzer.ExtractConstraints)},
	},
	Metadata: "safeframe/v1/analysis.json",
}
