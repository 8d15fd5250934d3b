package homekit

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HAP short-form UUIDs used by the accessory database.
const (
	serviceAccessoryInformation = "3E"
	serviceProtocolInformation  = "A2"

	charIdentify         = "14"
	charManufacturer     = "20"
	charModel            = "21"
	charName             = "23"
	charSerialNumber     = "30"
	charFirmwareRevision = "52"
	charVersion          = "37"
)

const (
	manufacturer    = "homehub"
	firmwareVersion = "1.0.0"
	protocolVersion = "1.1.0"

	hapContentType = "application/hap+json"
)

type characteristic struct {
	IID    int      `json:"iid"`
	Type   string   `json:"type"`
	Perms  []string `json:"perms"`
	Format string   `json:"format"`
	Value  any      `json:"value,omitempty"`
}

type service struct {
	IID             int              `json:"iid"`
	Type            string           `json:"type"`
	Characteristics []characteristic `json:"characteristics"`
}

type accessory struct {
	AID      uint64    `json:"aid"`
	Services []service `json:"services"`
}

type accessoryDatabase struct {
	Accessories []accessory `json:"accessories"`
}

func informationService(name, model, serial string) service {
	return service{
		IID:  1,
		Type: serviceAccessoryInformation,
		Characteristics: []characteristic{
			{IID: 2, Type: charIdentify, Perms: []string{"pw"}, Format: "bool"},
			{IID: 3, Type: charManufacturer, Perms: []string{"pr"}, Format: "string", Value: manufacturer},
			{IID: 4, Type: charModel, Perms: []string{"pr"}, Format: "string", Value: model},
			{IID: 5, Type: charName, Perms: []string{"pr"}, Format: "string", Value: name},
			{IID: 6, Type: charSerialNumber, Perms: []string{"pr"}, Format: "string", Value: serial},
			{IID: 7, Type: charFirmwareRevision, Perms: []string{"pr"}, Format: "string", Value: firmwareVersion},
		},
	}
}

// buildDatabase renders the bridge and its bridged accessories.
func buildDatabase(bridgeName string, id *Identity) accessoryDatabase {
	db := accessoryDatabase{
		Accessories: []accessory{{
			AID: bridgeAID,
			Services: []service{
				informationService(bridgeName, "Bridge", id.DeviceID),
				{
					IID:  8,
					Type: serviceProtocolInformation,
					Characteristics: []characteristic{
						{IID: 9, Type: charVersion, Perms: []string{"pr"}, Format: "string", Value: protocolVersion},
					},
				},
			},
		}},
	}
	for _, acc := range id.Sorted() {
		db.Accessories = append(db.Accessories, accessory{
			AID:      acc.AID,
			Services: []service{informationService(acc.Name, "Bridged Accessory", acc.UUID)},
		})
	}
	return db
}

func (b *Bridge) handleAccessories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	b.mu.Lock()
	db := buildDatabase(b.config.BridgeName, b.identity)
	b.mu.Unlock()

	w.Header().Set("Content-Type", hapContentType)
	if err := json.NewEncoder(w).Encode(db); err != nil {
		b.logger.Warn("Failed to encode accessory database", zap.Error(err))
	}
}
