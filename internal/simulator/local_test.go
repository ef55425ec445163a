package simulator

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/slots"
)

var testTarget = common.HexToAddress("0x3333333333333333333333333333333333333333")

func solidityRecord(token common.Address, base int64) slots.Record {
	return slots.Record{
		Token:    token,
		Layout:   slots.LayoutSolidity,
		BaseSlot: common.BigToHash(big.NewInt(base)),
		Block:    19_000_000,
	}
}

func testParams(target common.Address, calldata []byte, amount uint64) Params {
	return Params{
		User:     testUser,
		TokenIn:  testToken,
		Target:   target,
		Calldata: calldata,
		AmountIn: uint256.NewInt(amount),
	}
}

func TestLocalTransferWithSyntheticBalance(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	// transfer is served by the token's approve/transfer path and returns
	// true; the user holds nothing on chain
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000001")
	calldata := transferData(recipient, big.NewInt(1000))

	res, err := runLocal(newTestExecutor(backend), testParams(testToken, calldata, 1_000_000), solidityRecord(testToken, 9))
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s", res.Status, StatusSuccess)
	}

	wantTrue := "0x" + strings.Repeat("0", 63) + "1"
	if res.Output != wantTrue {
		t.Errorf("output = %s, want ABI true", res.Output)
	}
}

func TestLocalBalanceOverrideVisible(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	amount := uint64(123_456_789)
	res, err := runLocal(newTestExecutor(backend), testParams(testToken, eth.BalanceOfData(testUser), amount), solidityRecord(testToken, 9))
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s", res.Status, StatusSuccess)
	}

	got := new(big.Int).SetBytes(common.FromHex(res.Output))
	if got.Uint64() != amount {
		t.Errorf("balanceOf = %s, want %d", got, amount)
	}
}

func TestLocalVyperOverrideVisible(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(3, true)

	rec := slots.Record{
		Token:    testToken,
		Layout:   slots.LayoutVyper,
		BaseSlot: common.BigToHash(big.NewInt(3)),
	}
	res, err := runLocal(newTestExecutor(backend), testParams(testToken, eth.BalanceOfData(testUser), 555), rec)
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	got := new(big.Int).SetBytes(common.FromHex(res.Output))
	if got.Uint64() != 555 {
		t.Errorf("balanceOf = %s, want 555", got)
	}
}

func TestLocalUserCallReverts(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	payload := abiRevert("INSUFFICIENT_OUTPUT_AMOUNT")
	backend.code[testTarget] = revertWithCode(payload)

	res, err := runLocal(newTestExecutor(backend), testParams(testTarget, []byte{0x01, 0x02, 0x03, 0x04}, 1), solidityRecord(testToken, 9))
	if err != nil {
		t.Fatalf("a clean revert is a result, not an error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", res.Status, StatusFailed)
	}
	if !bytes.Equal(common.FromHex(res.Output), payload) {
		t.Errorf("revert data = %s, want encoded revert string", res.Output)
	}
}

func TestLocalTargetWithoutCode(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	_, err := runLocal(newTestExecutor(backend), testParams(testTarget, nil, 1), solidityRecord(testToken, 9))
	if err == nil {
		t.Fatal("expected error for codeless target")
	}
}

func TestLocalApproveRevertAborts(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = revertingCode()
	backend.code[testTarget] = returnSevenCode()

	_, err := runLocal(newTestExecutor(backend), testParams(testTarget, nil, 1), solidityRecord(testToken, 9))
	if err == nil {
		t.Fatal("expected error when approve reverts")
	}
}

func TestLocalEmptyCalldata(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)
	backend.code[testTarget] = returnSevenCode()

	res, err := runLocal(newTestExecutor(backend), testParams(testTarget, nil, 0), solidityRecord(testToken, 9))
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s", res.Status, StatusSuccess)
	}
}

func TestLocalUserIsToken(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	p := testParams(testToken, eth.BalanceOfData(testToken), 31337)
	p.User = testToken

	rec := slots.Record{
		Token:    testToken,
		Layout:   slots.LayoutSolidity,
		BaseSlot: common.BigToHash(big.NewInt(9)),
	}
	res, err := runLocal(newTestExecutor(backend), p, rec)
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	got := new(big.Int).SetBytes(common.FromHex(res.Output))
	if got.Uint64() != 31337 {
		t.Errorf("balanceOf = %s, want 31337", got)
	}
}

func TestLocalMaxAmount(t *testing.T) {
	backend := newMemBackend()
	backend.code[testToken] = erc20Code(9, false)

	max := new(uint256.Int).Not(uint256.NewInt(0))

	p := testParams(testToken, eth.BalanceOfData(testUser), 0)
	p.AmountIn = max
	res, err := runLocal(newTestExecutor(backend), p, solidityRecord(testToken, 9))
	if err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	got := new(big.Int).SetBytes(common.FromHex(res.Output))
	if got.Cmp(max.ToBig()) != 0 {
		t.Errorf("balanceOf = %s, want 2^256-1", got)
	}
}
