// Package all links every compiled-in add-on into the binary.
//
// Add-ons register themselves from init. Go initializes these imports in
// import path order, so the compiled-in discovery order (and therefore
// startup order) is alphabetical by package path.
package all

import (
	_ "homehub/internal/addons/homeassistant" // Home Assistant mirror
	_ "homehub/internal/addons/homekit"       // HomeKit bridge
	_ "homehub/internal/addons/mqttbridge"    // MQTT vendor extension
)
