package pcapdump_test

import (
	"bytes"
	"testing"

	"github.com/google/gopacket/layers"

	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/driver"
	"github.com/nanostack-io/netstack/pcapdump"
)

func TestAttachRXCapturesDeliveredFrames(t *testing.T) {
	var dst bytes.Buffer
	tap, err := pcapdump.New(&dst, layers.LinkTypeRaw)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var delivered []byte
	h := driver.NewHandle(0, &driver.Contract{}, func(nic int, frame []byte) {
		delivered = frame
	}, func() {})
	tap.AttachRX(h)

	headerLen := dst.Len()
	frame := []byte{0x45, 0x00, 0x00, 0x14}
	h.Deliver(frame)

	if string(delivered) != string(frame) {
		t.Fatalf("Deliver() did not reach the wrapped receive func: got %v", delivered)
	}
	if dst.Len() <= headerLen {
		t.Fatal("AttachRX's tap did not write a packet record")
	}
}

func TestWrapContractCapturesSendPacket(t *testing.T) {
	var dst bytes.Buffer
	tap, err := pcapdump.New(&dst, layers.LinkTypeRaw)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var sent []byte
	contract := &driver.Contract{
		SendPacket: func(h *driver.Handle, buf *buffer.Buffer) error {
			sent = append([]byte(nil), buf.Bytes()...)
			return nil
		},
	}
	wrapped := tap.WrapContract(contract)

	h := driver.NewHandle(0, wrapped, nil, func() {})
	buf := buffer.Allocate(4, 0)
	buf.Write(0, []byte{1, 2, 3, 4})

	headerLen := dst.Len()
	if err := wrapped.SendPacket(h, buf); err != nil {
		t.Fatalf("SendPacket() failed: %v", err)
	}
	if string(sent) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("wrapped SendPacket did not forward to the original: got %v", sent)
	}
	if dst.Len() <= headerLen {
		t.Fatal("WrapContract's tap did not write a packet record")
	}
}
