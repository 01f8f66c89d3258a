package accessory

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// namespace scopes the name-based accessory UUIDs to this bridge.
var namespace = uuid.MustParse("5d0c6d1a-7f3e-4b8e-9a59-2b1f3a0c9e41")

// BridgeAID is the HAP accessory id reserved for the bridge itself.
const BridgeAID uint64 = 1

// aidSpace keeps accessory ids within 32 bits; HomeKit controllers parse
// them as JSON numbers.
const aidSpace = 1<<32 - 1

// SeedName returns the name an accessory UUID is generated from.
func SeedName(deviceID, valueID string) string {
	return "AlmondDevice: " + deviceID + "-" + valueID
}

// GenerateUUID derives a version 5 UUID from name. The same name always
// yields the same UUID, across restarts and hosts.
func GenerateUUID(name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// UUIDFor returns the accessory UUID for a hub device value.
func UUIDFor(deviceID, valueID string) string {
	return GenerateUUID(SeedName(deviceID, valueID))
}

// HAPID maps an accessory UUID to a stable HAP accessory id. Ids 0 and 1
// are never returned; 1 belongs to the bridge.
func HAPID(accessoryUUID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(accessoryUUID)) //nolint:errcheck // hash writes never fail
	id := h.Sum64() & aidSpace
	if id <= BridgeAID {
		id += 2
	}
	return id
}
