// Package mdns advertises Pierre's two AirPlay service types over
// mDNS/DNS-SD, via pure-Go service registration (no system mdnsd
// dependency).
package mdns

import (
	"context"

	"github.com/brutella/dnssd"
)

// ServiceType selects between the AirPlay and RAOP advertisements.
type ServiceType int

const (
	AirPlayTCP ServiceType = iota
	RaopTCP
)

func (t ServiceType) String() string {
	if t == RaopTCP {
		return "_raop._tcp"
	}
	return "_airplay._tcp"
}

// TxtKeys is the complete, ordered TXT key list senders expect on an
// AirPlay 2 receiver advertisement; both service types emit every key.
var TxtKeys = []string{
	"apFeatures", "mdFeatures", "plFeatures", "PublicKey",
	"apGroupDiscoverableLeader", "apGroupUUID", "apAirPlayPairingIdentity",
	"apAirPlayVsn", "apSerialNumber", "apManufacturer", "apModel",
	"FirmwareVsn", "apSystemFlags", "apProtocolVsn", "apRequiredSenderFeatures",
	"apDeviceID", "apAccessControlLevel", "mdAirPlayVsn", "mdAirTunesProtocolVsn",
	"mdSystemFlags", "mdModel", "mdMetadataTypes", "mdEncryptTypes",
	"mdDigestAuthKey", "mdCompressionTypes", "mdTransportTypes", "apServiceName",
}

// Config carries per-device identity used to fill the TXT record
// (apDeviceID, apModel, apSerialNumber, ...).
type Config struct {
	ServiceName  string
	Host         string
	Port         int
	DeviceID     string
	Model        string
	SerialNumber string
}

// TxtRecord builds the TXT key/value map for one service type. Keys not
// meaningful for a given ServiceType still appear (empty value) so both
// registrations carry the same key set. The result is a map, so it
// does not preserve the order of TxtKeys.
func TxtRecord(cfg Config, svc ServiceType) map[string]string {
	txt := make(map[string]string, len(TxtKeys))
	for _, k := range TxtKeys {
		txt[k] = ""
	}

	txt["apDeviceID"] = cfg.DeviceID
	txt["apModel"] = cfg.Model
	txt["apSerialNumber"] = cfg.SerialNumber
	txt["apServiceName"] = cfg.ServiceName
	txt["apAirPlayVsn"] = "1"
	txt["apProtocolVsn"] = "1"
	txt["mdAirPlayVsn"] = "1"
	txt["mdAirTunesProtocolVsn"] = "1"
	txt["apFeatures"] = "0x445F8A00,0x1C340"
	txt["mdFeatures"] = "0x445F8A00,0x1C340"
	txt["mdTransportTypes"] = "TCP,UDP"

	if svc == RaopTCP {
		txt["apFeatures"] = "0x445F8A00,0x1C340"
	}

	return txt
}

// Advertiser owns the live dnssd responder carrying both service
// registrations.
type Advertiser struct {
	responder dnssd.Responder
	cancel    context.CancelFunc
}

// Advertise registers both _airplay._tcp and _raop._tcp and starts the
// responder goroutine. Call Shutdown (or cancel ctx) to withdraw the
// advertisement.
func Advertise(ctx context.Context, cfg Config) (*Advertiser, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, err
	}

	for _, svc := range []ServiceType{AirPlayTCP, RaopTCP} {
		entry, err := dnssd.NewService(dnssd.Config{
			Name: cfg.ServiceName,
			Type: svc.String(),
			Port: cfg.Port,
			Host: cfg.Host,
			Text: TxtRecord(cfg, svc),
		})
		if err != nil {
			return nil, err
		}
		if _, err := responder.Add(entry); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	go responder.Respond(runCtx) //nolint:errcheck // advertisement failures are not session-fatal

	return &Advertiser{responder: responder, cancel: cancel}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.cancel()
}
