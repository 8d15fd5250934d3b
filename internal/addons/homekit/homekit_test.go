package homekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homehub/internal/storage"
	"homehub/pkg/addon"
)

func validValues() map[string]any {
	return map[string]any{
		"port":        0,
		"pin":         "031-45-154",
		"bridge_name": "Test Bridge",
		"advertise":   false,
		"accessories": []any{"lamp", "door"},
	}
}

func newContext(values map[string]any, store addon.Storage) *addon.Context {
	return addon.NewContext(Name, addon.NewConfig(Name, values), store, zap.NewNop(), nil)
}

// sequentialUUIDs returns predictable UUIDs so device IDs are stable in tests.
func sequentialUUIDs() func() uuid.UUID {
	var n byte
	return func() uuid.UUID {
		n++
		var u uuid.UUID
		for i := range u {
			u[i] = n
		}
		return u
	}
}

func TestRegistered(t *testing.T) {
	d, ok := addon.Global().Get(Name)
	require.True(t, ok)
	assert.Equal(t, Name, d.Name)
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr bool
	}{
		{name: "valid", mutate: func(map[string]any) {}},
		{name: "missing port", mutate: func(v map[string]any) { delete(v, "port") }, wantErr: true},
		{name: "port out of range", mutate: func(v map[string]any) { v["port"] = 70000 }, wantErr: true},
		{name: "missing pin", mutate: func(v map[string]any) { delete(v, "pin") }, wantErr: true},
		{name: "malformed pin", mutate: func(v map[string]any) { v["pin"] = "12345678" }, wantErr: true},
		{name: "advertise not bool", mutate: func(v map[string]any) { v["advertise"] = 3 }, wantErr: true},
		{name: "duplicate accessory", mutate: func(v map[string]any) { v["accessories"] = []any{"lamp", "lamp"} }, wantErr: true},
		{name: "empty accessory", mutate: func(v map[string]any) { v["accessories"] = []any{""} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := validValues()
			tt.mutate(values)

			cfg, err := parseConfig(addon.NewConfig(Name, values))
			if tt.wantErr {
				assert.ErrorIs(t, err, addon.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Test Bridge", cfg.BridgeName)
			assert.Equal(t, defaultHostname, cfg.Hostname)
			assert.False(t, cfg.Advertise)
			assert.Equal(t, []string{"lamp", "door"}, cfg.Accessories)
		})
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(addon.NewConfig(Name, map[string]any{"port": 51826, "pin": "111-22-333"}))
	require.NoError(t, err)
	assert.Equal(t, defaultBridgeName, cfg.BridgeName)
	assert.True(t, cfg.Advertise)
	assert.Empty(t, cfg.Interface)
	assert.Empty(t, cfg.Accessories)
}

func TestCreate_DoesNotTouchStorage(t *testing.T) {
	store := storage.NewMemory()
	a, err := createAddOn(newContext(validValues(), store))
	require.NoError(t, err)
	assert.Equal(t, Name, a.Name())

	keys, err := store.Keys(context.Background(), storageNamespace)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLoadIdentity(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	gen := sequentialUUIDs()

	id, err := loadIdentity(ctx, store, []string{"lamp", "door"}, gen)
	require.NoError(t, err)
	assert.Equal(t, "01:01:01:01:01:01", id.DeviceID)
	assert.Equal(t, 1, id.ConfigNumber)
	assert.Equal(t, uint64(2), id.Accessories["lamp"].AID)
	assert.Equal(t, uint64(3), id.Accessories["door"].AID)

	t.Run("unchanged set keeps config number", func(t *testing.T) {
		again, err := loadIdentity(ctx, store, []string{"door", "lamp"}, gen)
		require.NoError(t, err)
		assert.Equal(t, id.DeviceID, again.DeviceID)
		assert.Equal(t, 1, again.ConfigNumber)
		assert.Equal(t, id.Accessories, again.Accessories)
	})

	t.Run("changed set bumps config number and keeps AIDs", func(t *testing.T) {
		changed, err := loadIdentity(ctx, store, []string{"lamp", "fan"}, gen)
		require.NoError(t, err)
		assert.Equal(t, 2, changed.ConfigNumber)
		assert.Equal(t, id.Accessories["lamp"], changed.Accessories["lamp"])
		assert.Equal(t, uint64(4), changed.Accessories["fan"].AID)
		assert.NotContains(t, changed.Accessories, "door")

		names := make([]string, 0)
		for _, acc := range changed.Sorted() {
			names = append(names, acc.Name)
		}
		assert.Equal(t, []string{"lamp", "fan"}, names)
	})
}

type failingStorage struct{ addon.Storage }

func (failingStorage) Get(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("disk I/O error")
}

func TestLoadIdentity_StorageError(t *testing.T) {
	_, err := loadIdentity(context.Background(), failingStorage{}, nil, uuid.New)
	assert.ErrorContains(t, err, "disk I/O error")
}

func TestBridge_ServesAccessories(t *testing.T) {
	store := storage.NewMemory()
	a, err := createAddOn(newContext(validValues(), store))
	require.NoError(t, err)
	bridge := a.(*addOnAdapter).Bridge()
	bridge.newUUID = sequentialUUIDs()

	require.NoError(t, a.Init())
	t.Cleanup(func() { _ = a.Destroy() })

	resp, err := http.Get(fmt.Sprintf("http://%s/accessories", bridge.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, hapContentType, resp.Header.Get("Content-Type"))

	var db accessoryDatabase
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&db))
	require.Len(t, db.Accessories, 3)
	assert.Equal(t, uint64(bridgeAID), db.Accessories[0].AID)
	assert.Len(t, db.Accessories[0].Services, 2)
	assert.Equal(t, "Test Bridge", db.Accessories[0].Services[0].Characteristics[3].Value)
	assert.Equal(t, "lamp", db.Accessories[1].Services[0].Characteristics[3].Value)
	assert.Equal(t, "door", db.Accessories[2].Services[0].Characteristics[3].Value)

	stored, err := store.Get(context.Background(), storageNamespace, identityKey)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "01:01:01:01:01:01")
}

func TestBridge_DestroyIsSafeAfterFailedInit(t *testing.T) {
	values := validValues()
	values["advertise"] = true

	a, err := createAddOn(newContext(values, storage.NewMemory()))
	require.NoError(t, err)
	bridge := a.(*addOnAdapter).Bridge()
	bridge.startMDNS = func(*mdns.Config) (advertiser, error) {
		return nil, errors.New("multicast not supported")
	}

	err = a.Init()
	assert.ErrorContains(t, err, "multicast not supported")

	// The accessory server was opened before the failure and must be closed.
	addr := bridge.Addr()
	require.NotEmpty(t, addr)
	require.NoError(t, a.Destroy())
	assert.Empty(t, bridge.Addr())

	_, err = net.Dial("tcp", addr)
	assert.Error(t, err)

	// Second destroy is a no-op.
	assert.NoError(t, a.Destroy())
}

func TestBridge_DestroyWithoutInit(t *testing.T) {
	a, err := createAddOn(newContext(validValues(), storage.NewMemory()))
	require.NoError(t, err)
	assert.NoError(t, a.Destroy())
}

type fakeAdvertiser struct {
	config   *mdns.Config
	shutdown int
}

func (f *fakeAdvertiser) Shutdown() error {
	f.shutdown++
	return nil
}

func TestBridge_AdvertisesBoundPort(t *testing.T) {
	values := validValues()
	values["advertise"] = true

	a, err := createAddOn(newContext(values, storage.NewMemory()))
	require.NoError(t, err)
	bridge := a.(*addOnAdapter).Bridge()
	bridge.newUUID = sequentialUUIDs()

	fake := &fakeAdvertiser{}
	bridge.startMDNS = func(cfg *mdns.Config) (advertiser, error) {
		fake.config = cfg
		return fake, nil
	}

	require.NoError(t, a.Init())
	require.NotNil(t, fake.config)

	svc, ok := fake.config.Zone.(*mdns.MDNSService)
	require.True(t, ok)
	_, port, err := net.SplitHostPort(bridge.Addr())
	require.NoError(t, err)
	assert.Equal(t, port, fmt.Sprint(svc.Port))
	assert.Contains(t, svc.TXT, "id=01:01:01:01:01:01")
	assert.Contains(t, svc.TXT, "c#=1")

	require.NoError(t, a.Destroy())
	assert.Equal(t, 1, fake.shutdown)
	require.NoError(t, a.Destroy())
	assert.Equal(t, 1, fake.shutdown)
}

func TestBridge_UnknownInterface(t *testing.T) {
	values := validValues()
	values["advertise"] = true
	values["mdns_interface"] = "does-not-exist0"

	a, err := createAddOn(newContext(values, storage.NewMemory()))
	require.NoError(t, err)
	bridge := a.(*addOnAdapter).Bridge()
	bridge.startMDNS = func(*mdns.Config) (advertiser, error) {
		t.Fatal("advertiser must not start without its interface")
		return nil, nil
	}

	assert.ErrorContains(t, a.Init(), "does-not-exist0")
	assert.NoError(t, a.Destroy())
}

func testService(t *testing.T) *mdns.MDNSService {
	t.Helper()
	id := &Identity{DeviceID: "AA:BB:CC:DD:EE:FF", ConfigNumber: 3}
	svc, err := newService("Test.Bridge", "homehub", 51826,
		[]net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("fe80::1")},
		txtRecords(id, "Test Bridge"))
	require.NoError(t, err)
	return svc
}

func recordsOfType[T dns.RR](rrs []dns.RR) []T {
	var out []T
	for _, rr := range rrs {
		if v, ok := rr.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestService_Records(t *testing.T) {
	svc := testService(t)
	const instance = "Test-Bridge._hap._tcp.local."

	t.Run("PTR browse", func(t *testing.T) {
		rrs := svc.Records(dns.Question{Name: "_hap._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET})

		ptrs := recordsOfType[*dns.PTR](rrs)
		require.Len(t, ptrs, 1)
		assert.Equal(t, instance, ptrs[0].Ptr)

		srvs := recordsOfType[*dns.SRV](rrs)
		require.Len(t, srvs, 1)
		assert.Equal(t, uint16(51826), srvs[0].Port)
		assert.Equal(t, "homehub.local.", srvs[0].Target)

		as := recordsOfType[*dns.A](rrs)
		require.Len(t, as, 1)
		assert.Equal(t, "192.168.1.20", as[0].A.String())
	})

	t.Run("TXT", func(t *testing.T) {
		txts := recordsOfType[*dns.TXT](svc.Records(dns.Question{Name: instance, Qtype: dns.TypeTXT, Qclass: dns.ClassINET}))
		require.Len(t, txts, 1)
		assert.Contains(t, txts[0].Txt, "c#=3")
		assert.Contains(t, txts[0].Txt, "id=AA:BB:CC:DD:EE:FF")
		assert.Contains(t, txts[0].Txt, "sf=1")
	})

	t.Run("host A", func(t *testing.T) {
		as := recordsOfType[*dns.A](svc.Records(dns.Question{Name: "homehub.local.", Qtype: dns.TypeA, Qclass: dns.ClassINET}))
		assert.Len(t, as, 1)
	})

	t.Run("foreign service is ignored", func(t *testing.T) {
		assert.Empty(t, svc.Records(dns.Question{Name: "_airplay._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}))
	})
}

func TestNewService_LoopbackFallback(t *testing.T) {
	svc, err := newService("Bridge", "homehub", 51826, nil, nil)
	require.NoError(t, err)
	require.Len(t, svc.IPs, 1)
	assert.True(t, svc.IPs[0].IsLoopback())
}
