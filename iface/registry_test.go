package iface

import "testing"

func TestGetDefaultIsIndexZero(t *testing.T) {
	r := NewRegistry(4, 8)
	ifc, err := r.GetDefault()
	if err != nil {
		t.Fatalf("GetDefault() = %v", err)
	}
	if ifc.Index != 0 {
		t.Errorf("GetDefault().Index = %d, want 0", ifc.Index)
	}
}

func TestMACFollowsParentChain(t *testing.T) {
	r := NewRegistry(3, 8)
	if err := r.SetMAC(0, [6]byte{0, 1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("SetMAC: %v", err)
	}
	if err := r.SetParent(1, 0); err != nil {
		t.Fatalf("SetParent: %v", err)
	}
	mac, err := r.MAC(1)
	if err != nil {
		t.Fatalf("MAC(1): %v", err)
	}
	if mac != [6]byte{0, 1, 2, 3, 4, 5} {
		t.Errorf("MAC(1) = %v, want parent's MAC", mac)
	}
}

func TestMACNoParentNoMACFails(t *testing.T) {
	r := NewRegistry(2, 8)
	if _, err := r.MAC(1); err == nil {
		t.Fatalf("MAC(1) = nil error, want NoAddress")
	}
}

func TestSetParentRejectsCycle(t *testing.T) {
	r := NewRegistry(3, 8)
	if err := r.SetParent(1, 0); err != nil {
		t.Fatalf("SetParent(1,0): %v", err)
	}
	if err := r.SetParent(0, 1); err == nil {
		t.Fatalf("SetParent(0,1) creating a cycle succeeded, want error")
	}
}

func TestSetVlanIDRejectsReserved(t *testing.T) {
	r := NewRegistry(2, 8)
	if err := r.SetVlanID(0, 0xFFF); err == nil {
		t.Fatalf("SetVlanID(0xFFF) succeeded, want rejection")
	}
	if err := r.SetVmanID(0, 0xFFF); err == nil {
		t.Fatalf("SetVmanID(0xFFF) succeeded, want rejection")
	}
	if err := r.SetVlanID(0, 10); err != nil {
		t.Fatalf("SetVlanID(10) = %v, want nil", err)
	}
}

func TestSetLinkStateNoopWhenUnchanged(t *testing.T) {
	r := NewRegistry(1, 8)
	calls := 0
	r.AddObserver(observerFunc(func(ifc *Interface, up bool) { calls++ }))
	if err := r.SetLinkState(0, false); err != nil {
		t.Fatalf("SetLinkState(false): %v", err)
	}
	if calls != 0 {
		t.Errorf("observer called %d times transitioning down->down, want 0", calls)
	}
	if err := r.SetLinkState(0, true); err != nil {
		t.Fatalf("SetLinkState(true): %v", err)
	}
	if calls != 1 {
		t.Errorf("observer called %d times transitioning down->up, want 1", calls)
	}
}

func TestLinkChangeCallbacksRunInOrderAfterObservers(t *testing.T) {
	r := NewRegistry(1, 8)
	var order []string
	r.AddObserver(observerFunc(func(ifc *Interface, up bool) { order = append(order, "observer") }))
	if _, err := r.AttachLinkChange(func(ifc *Interface, up bool) { order = append(order, "callback") }); err != nil {
		t.Fatalf("AttachLinkChange: %v", err)
	}
	if err := r.SetLinkState(0, true); err != nil {
		t.Fatalf("SetLinkState: %v", err)
	}
	if len(order) != 2 || order[0] != "observer" || order[1] != "callback" {
		t.Fatalf("notification order = %v, want [observer callback]", order)
	}
}

func TestStopInterfaceClearsConfigured(t *testing.T) {
	r := NewRegistry(1, 8)
	if err := r.ConfigInterface(0, make([]byte, 16)); err != nil {
		t.Fatalf("ConfigInterface: %v", err)
	}
	if !r.Configured(0) {
		t.Fatalf("Configured(0) = false after ConfigInterface")
	}
	if err := r.StopInterface(0); err != nil {
		t.Fatalf("StopInterface: %v", err)
	}
	if r.Configured(0) {
		t.Fatalf("Configured(0) = true after StopInterface")
	}
}

func TestAttachLinkChangeRespectsCapacity(t *testing.T) {
	r := NewRegistry(1, 1)
	if _, err := r.AttachLinkChange(func(*Interface, bool) {}); err != nil {
		t.Fatalf("first AttachLinkChange: %v", err)
	}
	if _, err := r.AttachLinkChange(func(*Interface, bool) {}); err == nil {
		t.Fatalf("AttachLinkChange exceeding capacity succeeded, want OutOfResources")
	}
}

type observerFunc func(ifc *Interface, up bool)

func (f observerFunc) OnLinkChange(ifc *Interface, up bool) { f(ifc, up) }
