package privval

import (
	"fmt"
	"os"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of PrivValidator.
type FilePVKey struct {
	PubKey  crypto.PubKey  `json:"pub_key"`
	PrivKey crypto.PrivKey `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	if err := tempfile.WriteFileAtomic(outFile, jsonBytes, 0o600); err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FilePV implements PrivValidator using an ed25519 key persisted to disk.
// Signatures produced here ride the reserved signature fields on the wire;
// peers carry them through without verifying yet.
type FilePV struct {
	Key FilePVKey
}

// NewFilePV wraps an existing key.
func NewFilePV(privKey crypto.PrivKey, keyFilePath string) *FilePV {
	return &FilePV{
		Key: FilePVKey{
			PubKey:   privKey.PubKey(),
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
	}
}

// GenFilePV generates a fresh key at keyFilePath without saving it.
func GenFilePV(keyFilePath string) *FilePV {
	return NewFilePV(ed25519.GenPrivKey(), keyFilePath)
}

// LoadFilePV reads a key file written by Save.
func LoadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	if err := tmjson.Unmarshal(keyJSONBytes, &pvKey); err != nil {
		return nil, fmt.Errorf("error reading PrivValidator key from %v: %w", keyFilePath, err)
	}
	pvKey.filePath = keyFilePath
	return &FilePV{Key: pvKey}, nil
}

// LoadOrGenFilePV loads the key file if present, generating and saving one
// otherwise.
func LoadOrGenFilePV(keyFilePath string) (*FilePV, error) {
	if tmos.FileExists(keyFilePath) {
		return LoadFilePV(keyFilePath)
	}
	pv := GenFilePV(keyFilePath)
	pv.Save()
	return pv, nil
}

// Save persists the key file.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// GetPubKey returns the public key of the validator.
func (pv *FilePV) GetPubKey() (crypto.PubKey, error) {
	return pv.Key.PubKey, nil
}

// SignBytes signs an arbitrary canonical preimage.
func (pv *FilePV) SignBytes(msg []byte) ([]byte, error) {
	return pv.Key.PrivKey.Sign(msg)
}

func (pv *FilePV) String() string {
	return fmt.Sprintf("PrivValidator{%X}", pv.Key.PubKey.Address())
}
