package daemon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// startControlServer serves registry on a socket in a short temp dir and
// returns its address.
func startControlServer(t *testing.T, registry *Registry, status func() Response) string {
	t.Helper()
	if status == nil {
		status = func() Response { return Response{} }
	}
	return serveControl(t, NewControlServer(registry, status))
}

func serveControl(t *testing.T, srv *ControlServer) string {
	t.Helper()

	address := filepath.Join(shortTempDir(t), "ctl.sock")
	listener, err := Listen(address)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, listener)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.registry.CloseAll()
	})
	return address
}

func TestHandshakeIsIdempotent(t *testing.T) {
	quietLogger(t)

	registry := NewRegistry(MatchAll, MatchAll)
	sink := &recordingSink{}
	registry.SetSink(ChannelLog, sink)
	address := startControlServer(t, registry, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := Handshake(ctx, address)
		cancel()
		if err != nil {
			t.Fatalf("handshake %d failed: %v", i, err)
		}
	}

	if registry.Attached(ChannelEvent) {
		t.Error("handshake must not attach a subscriber")
	}
	if sink.Closes() != 0 {
		t.Error("handshake must not touch existing sinks")
	}
	for _, st := range registry.Snapshot() {
		if st.Name == "log" && st.Attaches != 1 {
			t.Errorf("log channel attaches = %d, want 1", st.Attaches)
		}
	}
}

func TestAttachPromotesConnection(t *testing.T) {
	quietLogger(t)

	registry := NewRegistry(MatchAll, MatchAll)
	address := startControlServer(t, registry, nil)

	conn, err := Attach(context.Background(), address)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, 2*time.Second, "subscriber attach", func() bool { return registry.Attached(ChannelEvent) })

	registry.Publish([]byte("I am_proc_start: [0,42]\n"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != "I am_proc_start: [0,42]\n" {
		t.Errorf("subscriber got %q", line)
	}
}

func TestAttachReplacesPreviousSubscriber(t *testing.T) {
	quietLogger(t)

	registry := NewRegistry(MatchAll, MatchAll)
	address := startControlServer(t, registry, nil)

	first, err := Attach(context.Background(), address)
	if err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	defer first.Close()
	waitFor(t, 2*time.Second, "first attach", func() bool { return registry.Snapshot()[ChannelEvent].Attaches == 1 })

	second, err := Attach(context.Background(), address)
	if err != nil {
		t.Fatalf("second Attach failed: %v", err)
	}
	defer second.Close()
	waitFor(t, 2*time.Second, "second attach", func() bool { return registry.Snapshot()[ChannelEvent].Attaches == 2 })

	registry.Publish([]byte("only for the second\n"))

	// The replaced subscriber sees end of stream without receiving the line
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(first)
	if err != nil {
		t.Fatalf("reading replaced subscriber: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("replaced subscriber received %q", data)
	}

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(second).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if line != "only for the second\n" {
		t.Errorf("second subscriber got %q", line)
	}
}

func TestUnknownOpcodeIsClosedSilently(t *testing.T) {
	quietLogger(t)

	registry := NewRegistry(MatchAll, MatchAll)
	address := startControlServer(t, registry, nil)

	conn, err := sendOpcode(context.Background(), address, "REBOOT")
	if err != nil {
		t.Fatalf("sendOpcode failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("unknown opcode got a response: %q", data)
	}
	if registry.Attached(ChannelEvent) {
		t.Error("unknown opcode must not attach")
	}
}

func TestSilentConnectionTimesOut(t *testing.T) {
	quietLogger(t)

	srv := NewControlServer(NewRegistry(MatchAll, MatchAll), func() Response { return Response{} })
	srv.readTimeout = 50 * time.Millisecond
	address := serveControl(t, srv)

	conn, err := Dial(context.Background(), address)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadAll(conn); err != nil {
		t.Fatalf("expected the server to close the idle connection, got %v", err)
	}
}

func TestStatusOpcode(t *testing.T) {
	quietLogger(t)

	registry := NewRegistry(MatchAll, MatchAll)
	status := func() Response {
		r := Response{Data: &StatusData{Version: "1.2.3", Pid: 77, Channels: registry.Snapshot()}}
		r.AddMessage("Daemon running", "INFO")
		return r
	}
	address := startControlServer(t, registry, status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	response, err := Status(ctx, address)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if response.Data == nil || response.Data.Version != "1.2.3" || response.Data.Pid != 77 {
		t.Errorf("unexpected status data: %+v", response.Data)
	}
	if len(response.Data.Channels) != 2 {
		t.Errorf("expected 2 channels, got %d", len(response.Data.Channels))
	}
	if len(response.Messages) != 1 || response.Messages[0].Status != "INFO" {
		t.Errorf("unexpected messages: %+v", response.Messages)
	}
}

func TestHandleConnectionOverPipe(t *testing.T) {
	quietLogger(t)

	srv := NewControlServer(NewRegistry(MatchAll, MatchAll), func() Response { return Response{} })
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConnection(server)
		close(done)
	}()

	if _, err := client.Write([]byte("HANDSHAKE\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply != "HANDSHAKE\n" {
		t.Errorf("reply = %q", reply)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after handshake")
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	quietLogger(t)

	address := filepath.Join(shortTempDir(t), "stale.sock")
	old, err := net.Listen("unix", address)
	if err != nil {
		t.Fatal(err)
	}
	old.(*net.UnixListener).SetUnlinkOnClose(false)
	old.Close()

	listener, err := Listen(address)
	if err != nil {
		t.Fatalf("Listen over a stale socket failed: %v", err)
	}
	listener.Close()
}

func TestListenRefusesLiveSocket(t *testing.T) {
	quietLogger(t)

	address := filepath.Join(shortTempDir(t), "live.sock")
	live, err := net.Listen("unix", address)
	if err != nil {
		t.Fatal(err)
	}
	defer live.Close()
	go func() {
		for {
			conn, err := live.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	if _, err := Listen(address); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Listen on a live socket = %v, want ErrAlreadyRunning", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	quietLogger(t)

	address := filepath.Join(shortTempDir(t), "stop.sock")
	listener, err := Listen(address)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewControlServer(NewRegistry(MatchAll, MatchAll), func() Response { return Response{} })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	if _, err := Dial(context.Background(), address); err == nil {
		t.Error("expected the socket to be gone after Serve returned")
	}
}
