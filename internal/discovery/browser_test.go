package discovery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/host/hosttest"
)

func fastBrowser(target string) BrowserConfig {
	return BrowserConfig{
		Type:           testType,
		Target:         target,
		Granularity:    5 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
		BrowseWindow:   5 * time.Millisecond,
		ResolveTimeout: 50 * time.Millisecond,
		MissedSweeps:   2,
		RetryInitial:   5 * time.Millisecond,
		RetryMax:       20 * time.Millisecond,
	}
}

func startBrowser(t *testing.T, net *fakeNetwork, cfg BrowserConfig) (*Browser, *hosttest.Recorder) {
	t.Helper()
	rec, bridge := hosttest.NewBridge()
	b := NewBrowser(fakeBackend{net: net}, bridge, "browser-object", cfg)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, rec
}

func TestBrowser_ResolveThenRemoveOnce(t *testing.T) {
	net := newFakeNetwork()
	withdraw := net.advertise("printer", testType, 631)

	_, rec := startBrowser(t, net, fastBrowser(""))

	calls := rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
	c := calls[0]
	if c.Target != "browser-object" {
		t.Errorf("target = %v, want browser-object", c.Target)
	}
	if len(c.Args) != 4 {
		t.Fatalf("args = %v, want name host address port", c.Args)
	}
	if c.Args[0] != "printer" || c.Args[1] != "host-1.local." || c.Args[2] != "10.0.0.1" || c.Args[3] != 631 {
		t.Errorf("args = %v", c.Args)
	}

	// Several more sweeps must not report it again.
	time.Sleep(60 * time.Millisecond)
	if n := rec.Count(host.ServiceResolved); n != 1 {
		t.Errorf("serviceResolved count = %d, want 1", n)
	}

	withdraw()
	removed := rec.WaitFor(t, host.ServiceRemoved, 1, 2*time.Second)
	if removed[0].Args[0] != "printer" {
		t.Errorf("removed args = %v", removed[0].Args)
	}

	time.Sleep(60 * time.Millisecond)
	if n := rec.Count(host.ServiceRemoved); n != 1 {
		t.Errorf("serviceRemoved count = %d, want 1", n)
	}
}

func TestBrowser_ReappearingServiceResolvesAgain(t *testing.T) {
	net := newFakeNetwork()
	withdraw := net.advertise("printer", testType, 631)
	_, rec := startBrowser(t, net, fastBrowser(""))

	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
	withdraw()
	rec.WaitFor(t, host.ServiceRemoved, 1, 2*time.Second)

	net.advertise("printer", testType, 632)
	calls := rec.WaitFor(t, host.ServiceResolved, 2, 2*time.Second)
	if calls[1].Args[3] != 632 {
		t.Errorf("second resolve port = %v, want 632", calls[1].Args[3])
	}
}

func TestBrowser_ResolveTimeout(t *testing.T) {
	net := newFakeNetwork()
	net.setUnresolvable("ghost")
	withdraw := net.advertise("ghost", testType, 80)

	_, rec := startBrowser(t, net, fastBrowser(""))

	failed := rec.WaitFor(t, host.ServiceResolveFailed, 1, 2*time.Second)
	if failed[0].Args[0] != "ghost" {
		t.Errorf("failed args = %v", failed[0].Args)
	}

	// A failure is not retried while the service stays visible.
	time.Sleep(150 * time.Millisecond)
	if n := rec.Count(host.ServiceResolveFailed); n != 1 {
		t.Errorf("serviceResolveFailed count = %d, want 1", n)
	}

	// Never resolved, so its departure is not reported.
	withdraw()
	time.Sleep(80 * time.Millisecond)
	if n := rec.Count(host.ServiceRemoved); n != 0 {
		t.Errorf("serviceRemoved count = %d, want 0", n)
	}
	if n := rec.Count(host.ServiceResolved); n != 0 {
		t.Errorf("serviceResolved count = %d, want 0", n)
	}
}

func TestBrowser_FixedTarget(t *testing.T) {
	net := newFakeNetwork()
	net.advertise("wanted", testType, 80)
	net.advertise("other", testType, 81)

	b, rec := startBrowser(t, net, fastBrowser("wanted"))

	calls := rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
	if calls[0].Args[0] != "wanted" {
		t.Errorf("resolved %v, want wanted", calls[0].Args[0])
	}
	time.Sleep(60 * time.Millisecond)
	if n := rec.Count(host.ServiceResolved); n != 1 {
		t.Fatalf("serviceResolved count = %d, want 1", n)
	}

	// A target added later is resolved even though it was already visible.
	b.AddTarget("other")
	calls = rec.WaitFor(t, host.ServiceResolved, 2, 2*time.Second)
	if calls[1].Args[0] != "other" {
		t.Errorf("resolved %v, want other", calls[1].Args[0])
	}

	targets := b.Targets()
	if len(targets) != 2 || targets[0].Name != "other" || targets[1].Name != "wanted" {
		t.Fatalf("Targets() = %+v", targets)
	}
	for _, tg := range targets {
		if !tg.Resolved || tg.Entry == nil {
			t.Errorf("target %q not resolved", tg.Name)
		}
	}
}

func TestBrowser_RemovedTargetIsSilent(t *testing.T) {
	net := newFakeNetwork()
	withdraw := net.advertise("wanted", testType, 80)

	b, rec := startBrowser(t, net, fastBrowser("wanted"))
	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)

	b.RemoveTarget("wanted")
	withdraw()
	time.Sleep(80 * time.Millisecond)
	if n := rec.Count(host.ServiceRemoved); n != 0 {
		t.Errorf("serviceRemoved count = %d, want 0", n)
	}
}

func TestBrowser_AddTargetLeavesMonitorMode(t *testing.T) {
	net := newFakeNetwork()
	net.advertise("a", testType, 80)
	net.advertise("b", testType, 81)

	rec, bridge := hosttest.NewBridge()
	b := NewBrowser(fakeBackend{net: net}, bridge, "browser-object", fastBrowser(""))
	b.AddTarget("a")
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	calls := rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
	if calls[0].Args[0] != "a" {
		t.Errorf("resolved %v, want a", calls[0].Args[0])
	}
	time.Sleep(80 * time.Millisecond)
	if n := rec.Count(host.ServiceResolved); n != 1 {
		t.Errorf("serviceResolved count = %d, want 1", n)
	}
	if targets := b.Targets(); len(targets) != 1 || targets[0].Name != "a" {
		t.Errorf("Targets() = %+v, want only a", targets)
	}
}

func TestBrowser_AddTargetWhileMonitoring(t *testing.T) {
	net := newFakeNetwork()
	withdrawA := net.advertise("a", testType, 80)
	withdrawB := net.advertise("b", testType, 81)

	b, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 2, 2*time.Second)

	// a keeps its resolved state; b is no longer watched.
	b.AddTarget("a")
	withdrawB()
	time.Sleep(80 * time.Millisecond)
	if n := rec.Count(host.ServiceRemoved); n != 0 {
		t.Fatalf("serviceRemoved count = %d, want 0 for an unwatched name", n)
	}

	withdrawA()
	removed := rec.WaitFor(t, host.ServiceRemoved, 1, 2*time.Second)
	if removed[0].Args[0] != "a" {
		t.Errorf("removed %v, want a", removed[0].Args[0])
	}
	if n := rec.Count(host.ServiceResolved); n != 2 {
		t.Errorf("serviceResolved count = %d, want 2", n)
	}
}

func TestBrowser_MonitorForgetsRemovedNames(t *testing.T) {
	net := newFakeNetwork()
	var withdraw []func()
	for i := 0; i < 5; i++ {
		withdraw = append(withdraw, net.advertise(fmt.Sprintf("svc-%d", i), testType, 8000+i))
	}

	b, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 5, 2*time.Second)
	if targets := b.Targets(); len(targets) != 0 {
		t.Errorf("Targets() = %+v, monitored names are not targets", targets)
	}

	for _, w := range withdraw {
		w()
	}
	rec.WaitFor(t, host.ServiceRemoved, 5, 2*time.Second)

	ok := eventually(time.Second, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.monitored) == 0
	})
	if !ok {
		t.Error("removed services are still remembered")
	}
}

func TestBrowser_ConcurrentTargetChanges(t *testing.T) {
	net := newFakeNetwork()
	for i := 0; i < 5; i++ {
		net.advertise(fmt.Sprintf("svc-%d", i), testType, 8000+i)
	}

	b, _ := startBrowser(t, net, fastBrowser("svc-0"))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				name := fmt.Sprintf("svc-%d", (g+i)%5)
				b.AddTarget(name)
				_ = b.Targets()
				b.RemoveTarget(name)
			}
		}(g)
	}
	wg.Wait()

	b.Stop()
	if b.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestBrowser_StopDeliversNothingAfterReturn(t *testing.T) {
	net := newFakeNetwork()
	net.resolveDelay = 20 * time.Millisecond
	for i := 0; i < 10; i++ {
		net.advertise(fmt.Sprintf("svc-%d", i), testType, 8000+i)
	}

	b, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)

	b.Stop()
	n := rec.Len()
	time.Sleep(100 * time.Millisecond)
	if got := rec.Len(); got != n {
		t.Errorf("%d events delivered after Stop returned", got-n)
	}
	if got := net.openClients(); got != 0 {
		t.Errorf("open clients after Stop = %d, want 0", got)
	}
}

func TestBrowser_RestartReportsAgain(t *testing.T) {
	net := newFakeNetwork()
	net.advertise("printer", testType, 631)

	b, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)

	b.Stop()
	if err := b.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	rec.WaitFor(t, host.ServiceResolved, 2, 2*time.Second)
}

func TestBrowser_StartTwice(t *testing.T) {
	b, _ := startBrowser(t, newFakeNetwork(), fastBrowser(""))
	if err := b.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func TestBrowser_RecoversFromClientFailure(t *testing.T) {
	net := newFakeNetwork()
	net.failClients(2)
	net.advertise("printer", testType, 631)

	_, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
}

func TestBrowser_RecoversFromBrowseFailure(t *testing.T) {
	net := newFakeNetwork()
	net.advertise("printer", testType, 631)
	net.failBrowses(3)

	_, rec := startBrowser(t, net, fastBrowser(""))
	rec.WaitFor(t, host.ServiceResolved, 1, 2*time.Second)
	if !eventually(time.Second, func() bool { return net.openClients() == 1 }) {
		t.Errorf("open clients = %d, want 1", net.openClients())
	}
}
