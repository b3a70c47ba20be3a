package tahrir

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/Arceliar/tahrir/encrypted"
	"github.com/Arceliar/tahrir/persist"
	"github.com/Arceliar/tahrir/types"
)

const identityFormatVersion = 1

var errWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// privateNodeID is the private identity file. The identity is stored either
// in the clear or sealed under a key derived from a passphrase.
type privateNodeID struct {
	V        int             `json:"v"`
	Identity []byte          `json:"identity,omitempty"`
	Sealed   *sealedIdentity `json:"sealed,omitempty"`
}

type sealedIdentity struct {
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"argon2_time"`
	Memory  uint32 `json:"argon2_memory"`
	Threads uint8  `json:"argon2_threads"`
	Cipher  []byte `json:"cipher"`
}

// Tunables for argon2id key derivation.
func argon2ParamsDefault() (time, memory uint32, threads uint8) { return 1, 1 << 16, 4 }

func passphraseKey(passphrase string, salt []byte, time, memory uint32, threads uint8) encrypted.SymKey {
	var key encrypted.SymKey
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, time, memory, threads, encrypted.SymKeySize))
	return key
}

func sealIdentity(id *encrypted.Identity, passphrase string) (*privateNodeID, error) {
	raw, err := id.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return &privateNodeID{V: identityFormatVersion, Identity: raw}, nil
	}
	sealed := new(sealedIdentity)
	sealed.Salt = make([]byte, 16)
	if _, err := rand.Read(sealed.Salt); err != nil {
		return nil, err
	}
	sealed.Time, sealed.Memory, sealed.Threads = argon2ParamsDefault()
	key := passphraseKey(passphrase, sealed.Salt, sealed.Time, sealed.Memory, sealed.Threads)
	sealed.Cipher = key.Seal(nil, raw, sealed.Salt)
	return &privateNodeID{V: identityFormatVersion, Sealed: sealed}, nil
}

func (p *privateNodeID) open(passphrase string) (*encrypted.Identity, error) {
	if p.V > identityFormatVersion {
		return nil, fmt.Errorf("unsupported identity version %d", p.V)
	}
	raw := p.Identity
	if p.Sealed != nil {
		s := p.Sealed
		key := passphraseKey(passphrase, s.Salt, s.Time, s.Memory, s.Threads)
		var err error
		if raw, err = key.Open(nil, s.Cipher, s.Salt); err != nil {
			return nil, errWrongPassphrase
		}
	}
	id := new(encrypted.Identity)
	if err := id.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return id, nil
}

// loadOrCreateIdentity returns the node's identity, generating and saving a
// new one along with its public descriptor on first start.
func loadOrCreateIdentity(store *persist.Store, cfg *Config, passphrase string) (*encrypted.Identity, bool, error) {
	var priv privateNodeID
	err := store.LoadReadOnly(cfg.PrivateNodeID, &priv)
	switch {
	case err == nil:
		id, err := priv.open(passphrase)
		return id, false, err
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, err
	}
	id := encrypted.GenerateIdentity()
	sealed, err := sealIdentity(id, passphrase)
	if err != nil {
		return nil, false, err
	}
	if err := store.Save(cfg.PrivateNodeID, sealed, persist.PrivateMode); err != nil {
		return nil, false, err
	}
	desc := types.PeerDescriptor{Key: id.Public()}
	if err := store.Save(cfg.PublicNodeID, &desc, persist.PublicMode); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
