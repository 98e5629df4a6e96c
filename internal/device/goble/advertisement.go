package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/eegstream/internal/device"
)

// toAdvertisement converts a go-ble advertisement into the transport-neutral form.
func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	addr := ""
	if a := adv.Addr(); a != nil {
		addr = a.String()
	}

	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}

	return device.Advertisement{
		ID:       addr,
		Name:     adv.LocalName(),
		Address:  addr,
		RSSI:     adv.RSSI(),
		Services: services,
	}
}

// advertisesAny reports whether adv lists any of the normalized services.
// An empty filter accepts everything.
func advertisesAny(adv device.Advertisement, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range services {
		if adv.AdvertisesService(s) {
			return true
		}
	}
	return false
}
