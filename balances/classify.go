package balances

import (
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// Classify splits addresses into the ones that can be queried on chain and the
// ones that cannot. Every input address lands in exactly one of the two lists.
func Classify(addresses []string, chain *models.ChainDescriptor, dir *AccountDirectory) models.Partition {
	p := models.Partition{
		Queryable: make([]string, 0, len(addresses)),
		Skipped:   make([]string, 0),
	}

	if chain.Family != models.FamilyAccountModel {
		want := FamilyAddressType(chain.Family)
		for _, addr := range addresses {
			if want != AddressUnknown && DetectAddressType(addr) == want {
				p.Queryable = append(p.Queryable, addr)
			} else {
				p.Skipped = append(p.Skipped, addr)
			}
		}
		return p
	}

	for _, addr := range addresses {
		if DetectAddressType(addr) != AddressAccountModel {
			p.Skipped = append(p.Skipped, addr)
			continue
		}
		account, err := dir.Lookup(addr)
		if err != nil {
			// unknown addresses are never hidden
			p.Queryable = append(p.Queryable, addr)
			continue
		}
		if account.AllowsChain(chain.GenesisHash) {
			p.Queryable = append(p.Queryable, addr)
		} else {
			p.Skipped = append(p.Skipped, addr)
		}
	}
	return p
}
