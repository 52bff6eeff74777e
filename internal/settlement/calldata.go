package settlement

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/google/uuid"
)

// callbackABI describes the opaque data handed to the pool and echoed back in
// the settlement callback: the fee the operation was quoted at, the token of
// the in-flight operation and the caller's aux bytes.
const callbackABI = `[
  {"type":"function","name":"settle","stateMutability":"nonpayable",
   "inputs":[
     {"name":"fee","type":"uint24"},
     {"name":"opId","type":"bytes16"},
     {"name":"aux","type":"bytes"}
   ],
   "outputs":[]}
]`

var callbackArgs abi.Arguments

func init() {
	a, err := abi.JSON(strings.NewReader(callbackABI))
	if err != nil {
		panic(fmt.Sprintf("parse callback abi: %v", err))
	}
	callbackArgs = a.Methods["settle"].Inputs
}

type callbackData struct {
	Fee  uint32
	OpID uuid.UUID
	Aux  []byte
}

func encodeCallbackData(d callbackData) ([]byte, error) {
	aux := d.Aux
	if aux == nil {
		aux = []byte{}
	}
	out, err := callbackArgs.Pack(new(big.Int).SetUint64(uint64(d.Fee)), [16]byte(d.OpID), aux)
	if err != nil {
		return nil, fmt.Errorf("pack callback data: %w", err)
	}
	return out, nil
}

func decodeCallbackData(data []byte) (callbackData, error) {
	vals, err := callbackArgs.Unpack(data)
	if err != nil {
		return callbackData{}, fmt.Errorf("unpack callback data: %w", err)
	}
	if len(vals) != 3 {
		return callbackData{}, fmt.Errorf("unpack callback data: got %d values", len(vals))
	}
	fee, ok1 := vals[0].(*big.Int)
	id, ok2 := vals[1].([16]byte)
	aux, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 || !fee.IsUint64() {
		return callbackData{}, fmt.Errorf("unpack callback data: unexpected types %T %T %T", vals[0], vals[1], vals[2])
	}
	return callbackData{Fee: uint32(fee.Uint64()), OpID: uuid.UUID(id), Aux: aux}, nil
}
