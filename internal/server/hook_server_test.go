package server

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/engine/consequence"
	"github.com/chatabc/open-safe-frame/internal/engine/intent"
	"github.com/chatabc/open-safe-frame/internal/engine/values"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/metrics"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

const testKey = "sfk_test_key"

// testServer spins up an in-process gRPC server and returns a connected client.
func testServer(t *testing.T) *safeframev1.SafeFrameServiceClient {
	t.Helper()

	logger := zap.NewNop()
	coordinator := engine.NewCoordinator(engine.CoordinatorConfig{
		Intent:    intent.NewInterpreter(nil, 10, nil),
		Predictor: consequence.NewPredictor(nil, nil, 10, nil),
		Values:    values.NewEvaluator(),
	})
	sessions := session.NewRegistry(session.RegistryConfig{
		NewLedger: func(string, string) *constraint.Ledger {
			return constraint.NewLedger(constraint.LedgerConfig{Extractor: backend.NewRuleAnalyzer()})
		},
	})
	svc := guard.New(guard.Config{
		Sessions: sessions,
		Assessor: coordinator,
		Writer:   storage.NewLogWriter(logger),
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Logger:   logger,
	})

	authenticator := auth.NewStaticAuthenticator(auth.StaticAuthConfig{APIKey: testKey, TenantID: "tenant_test"})
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(authenticator, logger)))
	safeframev1.RegisterSafeFrameServiceServer(grpcServer, NewHookServer(svc, logger))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
		sessions.Close()
	})
	return safeframev1.NewSafeFrameServiceClient(conn)
}

func authedCtx(key string) context.Context {
	return metadata.NewOutgoingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+key))
}

func TestIntegration_Unauthenticated(t *testing.T) {
	client := testServer(t)

	_, err := client.StartSession(context.Background(), &safeframev1.StartSessionRequest{SessionKey: "s"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without metadata, got %v", err)
	}

	_, err = client.StartSession(authedCtx("sfk_wrong_key"), &safeframev1.StartSessionRequest{SessionKey: "s"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for wrong key, got %v", err)
	}
}

func TestIntegration_InvalidArguments(t *testing.T) {
	client := testServer(t)
	ctx := authedCtx(testKey)

	_, err := client.BeforeToolCall(ctx, &safeframev1.BeforeToolCallRequest{ToolName: "read_file"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing session_key, got %v", err)
	}

	_, err = client.ImportConstraints(ctx, &safeframev1.ImportConstraintsRequest{
		SessionKey:  "s",
		Constraints: []constraint.Constraint{{ID: "c1", Content: "x", Priority: "urgent"}},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for bad priority, got %v", err)
	}
}

func TestIntegration_ConfirmFlow(t *testing.T) {
	client := testServer(t)
	ctx := authedCtx(testKey)

	start, err := client.StartSession(ctx, &safeframev1.StartSessionRequest{SessionKey: "s1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !start.Created {
		t.Fatal("expected a new session")
	}

	msg, err := client.MessageReceived(ctx, &safeframev1.MessageReceivedRequest{SessionKey: "s1", Text: "买一个咖啡"})
	if err != nil {
		t.Fatalf("MessageReceived: %v", err)
	}
	if msg.Consumed {
		t.Fatal("ordinary message must reach the agent")
	}

	call := &safeframev1.BeforeToolCallRequest{SessionKey: "s1", ToolName: "purchase"}
	resp, err := client.BeforeToolCall(ctx, call)
	if err != nil {
		t.Fatalf("BeforeToolCall: %v", err)
	}
	if !resp.Block || resp.Action != string(engine.ActionConfirm) {
		t.Fatalf("expected blocked confirm, got block=%v action=%s", resp.Block, resp.Action)
	}
	if resp.Assessment == nil || resp.Assessment.Decision.Confirmation == nil {
		t.Fatal("expected assessment with confirmation request")
	}

	msg, err = client.MessageReceived(ctx, &safeframev1.MessageReceivedRequest{SessionKey: "s1", Text: "确认"})
	if err != nil {
		t.Fatalf("MessageReceived: %v", err)
	}
	if !msg.Consumed || msg.State != string(session.StateIdle) {
		t.Fatalf("expected consumed confirmation, got consumed=%v state=%s", msg.Consumed, msg.State)
	}

	resp, err = client.BeforeToolCall(ctx, call)
	if err != nil {
		t.Fatalf("BeforeToolCall: %v", err)
	}
	if resp.Block {
		t.Fatalf("expected confirmed call to pass, got %s: %s", resp.Action, resp.Reason)
	}

	if _, err := client.AfterToolCall(ctx, &safeframev1.AfterToolCallRequest{SessionKey: "s1", ToolName: "purchase", Result: "ok"}); err != nil {
		t.Fatalf("AfterToolCall: %v", err)
	}

	end, err := client.EndSession(ctx, &safeframev1.EndSessionRequest{SessionKey: "s1"})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !end.Ended {
		t.Fatal("expected session to end")
	}
}

func TestIntegration_ConstraintsRoundTrip(t *testing.T) {
	client := testServer(t)
	ctx := authedCtx(testKey)

	msg, err := client.MessageReceived(ctx, &safeframev1.MessageReceivedRequest{SessionKey: "s2", Text: "不要删除任何文件"})
	if err != nil {
		t.Fatalf("MessageReceived: %v", err)
	}
	if msg.PromptContext == "" {
		t.Fatal("expected prompt context listing the new constraint")
	}

	exported, err := client.ExportConstraints(ctx, &safeframev1.ExportConstraintsRequest{SessionKey: "s2"})
	if err != nil {
		t.Fatalf("ExportConstraints: %v", err)
	}
	if len(exported.Constraints) != 1 || exported.Constraints[0].Priority != constraint.PriorityCritical {
		t.Fatalf("unexpected export: %+v", exported.Constraints)
	}

	imported, err := client.ImportConstraints(ctx, &safeframev1.ImportConstraintsRequest{SessionKey: "s3", Constraints: exported.Constraints})
	if err != nil {
		t.Fatalf("ImportConstraints: %v", err)
	}
	if imported.Imported != 1 {
		t.Fatalf("expected 1 imported, got %d", imported.Imported)
	}

	resp, err := client.BeforeToolCall(ctx, &safeframev1.BeforeToolCallRequest{
		SessionKey: "s3", ToolName: "delete_file", Params: map[string]any{"path": "/tmp/a.txt"},
	})
	if err != nil {
		t.Fatalf("BeforeToolCall: %v", err)
	}
	if !resp.Block || resp.Action != string(engine.ActionReject) {
		t.Fatalf("imported constraint should block delete, got block=%v action=%s", resp.Block, resp.Action)
	}

	_, err = client.ImportConstraints(ctx, &safeframev1.ImportConstraintsRequest{SessionKey: "s3"})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied when an import drops a critical constraint, got %v", err)
	}

	_, err = client.ExportConstraints(ctx, &safeframev1.ExportConstraintsRequest{SessionKey: "never-started"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound exporting an unknown session, got %v", err)
	}
}
