package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// HostAdapter implements Adapter on the host's Bluetooth radio via the
// tinygo bluetooth stack (BlueZ on Linux).
//
// The underlying stack supports one scan at a time, but every driver
// holds its own scan open (watchers scan forever, managers scan until
// their device appears). HostAdapter therefore runs a single shared
// scan and fans advertisements out to all Scan subscribers; the radio
// scan stops only when the last subscriber is gone.
type HostAdapter struct {
	adapter *bluetooth.Adapter
	log     Logger

	// startScan/stopScan wrap the stack so the fan-out can be tested
	// without a radio.
	startScan func(yield func(Advertisement)) error
	stopScan  func() error

	mu       sync.Mutex
	subs     map[chan Advertisement]struct{}
	scanning bool
}

// NewHostAdapter enables the default host adapter and wraps it.
func NewHostAdapter(log Logger) (*HostAdapter, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enabling adapter: %w", ErrScanFailed, err)
	}

	h := &HostAdapter{adapter: adapter, log: log}
	h.startScan = func(yield func(Advertisement)) error {
		return adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			yield(convertScanResult(result))
		})
	}
	h.stopScan = adapter.StopScan
	return h, nil
}

// Scan subscribes to the shared scan and streams advertisements until
// ctx is cancelled. The returned channel is closed when the
// subscription ends; concurrent subscribers each get every
// advertisement.
func (h *HostAdapter) Scan(ctx context.Context) (<-chan Advertisement, error) {
	sub := make(chan Advertisement, 16)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan Advertisement]struct{})
	}
	h.subs[sub] = struct{}{}
	if !h.scanning {
		h.scanning = true
		go h.runScan()
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(sub)
	}()

	return sub, nil
}

// runScan owns the radio scan. It exits when the last subscriber
// leaves (stopScan) or the stack fails; any subscribers left at that
// point see their channel close and restart through Scan.
func (h *HostAdapter) runScan() {
	err := h.startScan(h.broadcast)

	h.mu.Lock()
	h.scanning = false
	orphans := make([]chan Advertisement, 0, len(h.subs))
	for sub := range h.subs {
		delete(h.subs, sub)
		orphans = append(orphans, sub)
	}
	h.mu.Unlock()

	for _, sub := range orphans {
		close(sub)
	}
	if err != nil && h.log != nil {
		h.log.Warn("host scan ended", "error", err)
	}
}

// broadcast delivers one advertisement to every subscriber.
func (h *HostAdapter) broadcast(adv Advertisement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- adv:
		default:
			// Slow consumer; advertisements repeat, drop this one.
		}
	}
}

// unsubscribe detaches one subscriber and stops the radio scan when it
// was the last.
func (h *HostAdapter) unsubscribe(sub chan Advertisement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub)
	if len(h.subs) == 0 && h.scanning {
		_ = h.stopScan()
	}
}

// Connect establishes a GATT connection to the device at mac.
func (h *HostAdapter) Connect(ctx context.Context, mac string) (Peripheral, error) {
	parsed, err := bluetooth.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing mac %q: %w", ErrConnectFailed, mac, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: parsed}}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: deadline exceeded before connect", ErrConnectFailed)
		}
		params.ConnectionTimeout = bluetooth.NewDuration(remaining)
	}

	device, err := h.adapter.Connect(addr, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	return &hostPeripheral{device: device}, nil
}

// hostPeripheral adapts a tinygo bluetooth Device to Peripheral.
// Characteristic handles are resolved on first use and cached.
type hostPeripheral struct {
	device bluetooth.Device

	mu    sync.Mutex
	chars map[string]bluetooth.DeviceCharacteristic
}

func (p *hostPeripheral) Read(service, characteristic string) ([]byte, error) {
	char, err := p.characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 512)
	n, err := char.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", characteristic, err)
	}
	return buf[:n], nil
}

func (p *hostPeripheral) Write(service, characteristic string, data []byte) error {
	char, err := p.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	// On BlueZ this issues GattCharacteristic1.WriteValue with no type
	// option, which the daemon performs as an acknowledged write request
	// when the characteristic is writable. The stack exposes no other
	// client-side write.
	if _, err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("writing %s: %w", characteristic, err)
	}
	return nil
}

func (p *hostPeripheral) Notify(service, characteristic string, fn func(data []byte)) error {
	char, err := p.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	if err := char.EnableNotifications(func(buf []byte) {
		// The stack reuses buf; hand callers a stable copy.
		data := append([]byte(nil), buf...)
		fn(data)
	}); err != nil {
		return fmt.Errorf("enabling notifications on %s: %w", characteristic, err)
	}
	return nil
}

func (p *hostPeripheral) Disconnect() error {
	return p.device.Disconnect()
}

// characteristic resolves and caches a characteristic handle.
func (p *hostPeripheral) characteristic(service, characteristic string) (bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := service + "/" + characteristic
	if char, ok := p.chars[key]; ok {
		return char, nil
	}

	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: bad service uuid %q: %w", ErrCharacteristicNotFound, service, err)
	}
	charUUID, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: bad characteristic uuid %q: %w", ErrCharacteristicNotFound, characteristic, err)
	}

	services, err := p.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: service %s: %v", ErrCharacteristicNotFound, service, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: characteristic %s: %v", ErrCharacteristicNotFound, characteristic, err)
	}

	if p.chars == nil {
		p.chars = make(map[string]bluetooth.DeviceCharacteristic)
	}
	p.chars[key] = chars[0]
	return chars[0], nil
}

// convertScanResult maps a stack scan result onto Advertisement.
func convertScanResult(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Addr:      result.Address.String(),
		LocalName: result.LocalName(),
		RSSI:      result.RSSI,
	}

	for _, element := range result.ManufacturerData() {
		if adv.ManufacturerData == nil {
			adv.ManufacturerData = make(map[uint16][]byte)
		}
		adv.ManufacturerData[element.CompanyID] = element.Data
	}

	for _, element := range result.ServiceData() {
		adv.ServiceDataUUIDs = append(adv.ServiceDataUUIDs, element.UUID.String())
	}

	return adv
}
