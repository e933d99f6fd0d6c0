package hipcrypto

import (
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// SelectGroup implements the initiator side of HIP-v2 group negotiation:
// pick the peer's first supported group from their ordered preference
// list.
func SelectGroup(peerPreference []GroupID, ourSupported map[GroupID]bool) (GroupID, bool) {
	for _, id := range peerPreference {
		if ourSupported[id] {
			return id, true
		}
	}
	return 0, false
}

// CheckNoDowngrade implements the responder side: the initiator MUST
// have chosen the first entry of our preference list that it supports.
// Any other choice, when a higher-preference mutually-supported group
// existed, is a downgrade attack and must fail the exchange.
func CheckNoDowngrade(ourPreference []GroupID, peerSupported map[GroupID]bool, chosen GroupID) error {
	for _, id := range ourPreference {
		if !peerSupported[id] {
			continue
		}
		if id == chosen {
			return nil
		}
		return hiperr.New(hiperr.KindDowngrade, "hipcrypto.CheckNoDowngrade",
			fmt.Errorf("initiator chose group %d but higher-preference mutual group %d was available", chosen, id))
	}
	return hiperr.New(hiperr.KindDowngrade, "hipcrypto.CheckNoDowngrade", fmt.Errorf("chosen group %d not in our preference list", chosen))
}
