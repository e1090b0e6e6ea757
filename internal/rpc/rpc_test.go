package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func testConn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	svc.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestUnaryRoundTrip(t *testing.T) {
	svc := &Service{
		Name: "test.Echo",
		Unary: map[string]UnaryHandler{
			"Echo": func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return NewStruct(map[string]any{"text": String(req, "text"), "n": Int(req, "n") + 1}), nil
			},
			"Fail": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, grpcstatus.Error(codes.NotFound, "nope")
			},
		},
	}
	conn := testConn(t, svc)

	out, err := Invoke(context.Background(), conn, Method("test.Echo", "Echo"), NewStruct(map[string]any{"text": "hi", "n": 41}))
	if err != nil {
		t.Fatal(err)
	}
	if String(out, "text") != "hi" || Int(out, "n") != 42 {
		t.Errorf("got %v, want text=hi n=42", out)
	}

	_, err = Invoke(context.Background(), conn, Method("test.Echo", "Fail"), nil)
	if grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("code = %v, want NotFound", grpcstatus.Code(err))
	}
}

func TestServerStream(t *testing.T) {
	svc := &Service{
		Name: "test.Counter",
		Streams: map[string]StreamHandler{
			"Count": func(req *structpb.Struct, stream Stream) error {
				for i := int64(0); i < Int(req, "to"); i++ {
					if err := stream.Send(NewStruct(map[string]any{"i": i})); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
	conn := testConn(t, svc)

	recv, err := Subscribe(context.Background(), conn, Method("test.Counter", "Count"), NewStruct(map[string]any{"to": 3}))
	if err != nil {
		t.Fatal(err)
	}
	var got []int64
	for {
		msg, err := recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, Int(msg, "i"))
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("got %v, want [0 1 2]", got)
	}
}

func TestValueHelpers(t *testing.T) {
	s := NewStruct(map[string]any{
		"ids":     []any{"a", "b", 3},
		"payload": []byte{0xff, 0x00},
		"nested":  map[string]any{"ok": true},
	})

	if ids := Strings(s, "ids"); len(ids) != 2 || ids[1] != "b" {
		t.Errorf("Strings = %v, want [a b]", ids)
	}
	b, err := Bytes(s, "payload")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != 0xff {
		t.Errorf("Bytes = %v, want [255 0]", b)
	}
	if !Bool(Struct(s, "nested"), "ok") {
		t.Error("nested ok = false, want true")
	}
	if String(nil, "missing") != "" {
		t.Error("String on nil struct should be empty")
	}
}
