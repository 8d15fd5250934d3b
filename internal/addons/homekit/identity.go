package homekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"homehub/pkg/addon"
)

// Storage layout.
const (
	storageNamespace = "homekit"
	identityKey      = "identity"
)

// bridgeAID is the accessory ID HAP reserves for the bridge itself.
const bridgeAID = 1

// maxConfigNumber is the largest c# value; it wraps to 1.
const maxConfigNumber = 65535

// Identity is the persistent bridge identity. Controllers pair against the
// device ID and cache accessory IDs, so both survive restarts.
type Identity struct {
	DeviceID     string               `json:"device_id"`
	ConfigNumber int                  `json:"config_number"`
	NextAID      uint64               `json:"next_aid"`
	Accessories  map[string]Accessory `json:"accessories"`
}

// Accessory is the stable identity of one bridged accessory.
type Accessory struct {
	AID  uint64 `json:"aid"`
	UUID string `json:"uuid"`
}

// NamedAccessory pairs an accessory with its configured name.
type NamedAccessory struct {
	Name string
	Accessory
}

// Sorted returns the accessories ordered by AID.
func (id *Identity) Sorted() []NamedAccessory {
	out := make([]NamedAccessory, 0, len(id.Accessories))
	for name, acc := range id.Accessories {
		out = append(out, NamedAccessory{Name: name, Accessory: acc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AID < out[j].AID })
	return out
}

// loadIdentity reads the stored identity, creating it on first run, and
// reconciles it with the configured accessory names. The configuration
// number is bumped whenever the accessory set changes.
func loadIdentity(ctx context.Context, store addon.Storage, names []string, newUUID func() uuid.UUID) (*Identity, error) {
	id := &Identity{}

	raw, err := store.Get(ctx, storageNamespace, identityKey)
	switch {
	case errors.Is(err, addon.ErrNotFound):
		u := newUUID()
		id.DeviceID = fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", u[0], u[1], u[2], u[3], u[4], u[5])
		id.ConfigNumber = 1
		id.NextAID = bridgeAID + 1
		id.Accessories = make(map[string]Accessory)
	case err != nil:
		return nil, fmt.Errorf("reading bridge identity: %w", err)
	default:
		if err := json.Unmarshal(raw, id); err != nil {
			return nil, fmt.Errorf("decoding bridge identity: %w", err)
		}
		if id.Accessories == nil {
			id.Accessories = make(map[string]Accessory)
		}
	}

	changed := raw == nil
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
		if _, ok := id.Accessories[name]; ok {
			continue
		}
		id.Accessories[name] = Accessory{AID: id.NextAID, UUID: newUUID().String()}
		id.NextAID++
		changed = true
	}
	for name := range id.Accessories {
		if !wanted[name] {
			delete(id.Accessories, name)
			changed = true
		}
	}

	if !changed {
		return id, nil
	}
	if raw != nil {
		id.ConfigNumber++
		if id.ConfigNumber > maxConfigNumber {
			id.ConfigNumber = 1
		}
	}

	data, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("encoding bridge identity: %w", err)
	}
	if err := store.Put(ctx, storageNamespace, identityKey, data); err != nil {
		return nil, fmt.Errorf("saving bridge identity: %w", err)
	}
	return id, nil
}
