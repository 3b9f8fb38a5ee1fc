package server

import (
	"context"
	"io"
	"testing"

	"workerlink/message"
	"workerlink/rpc"
	"workerlink/transport"
)

type addArgs struct{ A, B int }

var methodAdd = message.Method[addArgs, int]{Name: "add"}

func benchServer() *Server {
	s := NewServer()
	Handle(s, methodAdd, func(ctx context.Context, args addArgs) (int, error) {
		return args.A + args.B, nil
	})
	return s
}

// pipeCaller connects over the in-memory pipe.
func pipeCaller(b *testing.B, s *Server) *rpc.Channel {
	front, back := transport.Pipe()
	b.Cleanup(func() { _ = front.Close() })
	s.Serve(back)
	return rpc.New(front)
}

// streamCaller connects over framed byte streams, as with a child process.
func streamCaller(b *testing.B, s *Server) *rpc.Channel {
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	front := transport.NewStream(downR, upW, transport.WithClosers(upW, downR))
	back := transport.NewStream(upR, downW, transport.WithClosers(downW, upR))
	b.Cleanup(func() {
		_ = front.Close()
		_ = back.Close()
	})
	s.Serve(back)
	return rpc.New(front)
}

func benchSerial(b *testing.B, c *rpc.Channel) {
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rpc.Invoke(ctx, c, methodAdd, addArgs{A: 1, B: 2}); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines share one channel; calls are told apart only by id.
func benchConcurrent(b *testing.B, c *rpc.Channel) {
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := rpc.Invoke(ctx, c, methodAdd, addArgs{A: 1, B: 2}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkSerialCallPipe(b *testing.B) {
	benchSerial(b, pipeCaller(b, benchServer()))
}

func BenchmarkConcurrentCallPipe(b *testing.B) {
	benchConcurrent(b, pipeCaller(b, benchServer()))
}

func BenchmarkSerialCallStream(b *testing.B) {
	benchSerial(b, streamCaller(b, benchServer()))
}

func BenchmarkConcurrentCallStream(b *testing.B) {
	benchConcurrent(b, streamCaller(b, benchServer()))
}
