package wire

import (
	"bytes"
	"testing"
)

func TestRoundTripVersionMessage(t *testing.T) {
	payload := VersionPayload{
		ProtocolVersion: ProtocolVersion,
		Nonce:           12345,
		Info:            PeerInfo{Addr: []byte{127, 0, 0, 1}, Port: DefaultPort},
		Timestamp:       1700000000,
	}
	enc, err := EncodePayload(&payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	msg := Message{Type: MsgVersion, Payload: enc}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if got.Type != MsgVersion {
		t.Fatalf("type mismatch: %s", got.Type)
	}
	var decoded VersionPayload
	if err := DecodePayload(got.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Nonce != payload.Nonce || decoded.ProtocolVersion != payload.ProtocolVersion {
		t.Fatalf("payload mismatch: got %+v want %+v", decoded, payload)
	}
}

func TestRoundTripSignedTxMessage(t *testing.T) {
	tx := Transaction{
		Payload: TransactionPayload{
			Version:     1,
			ConciliumID: 7,
			Ins:         []TxIn{{TxHash: Hash{1}, NTxOutput: 0}},
			Outs:        []TxOut{{Amount: 100, ReceiverAddr: Address{2}}},
		},
		ClaimProofs: [][]byte{{0xde, 0xad}},
	}
	enc, err := EncodePayload(&TxPayloadMsg{Tx: tx})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	msg := Message{Type: MsgTx, Payload: enc, Signature: []byte{0xAA, 0xBB}, PublicKey: []byte{0x01, 0x02, 0x03}}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !bytes.Equal(got.Signature, msg.Signature) || !bytes.Equal(got.PublicKey, msg.PublicKey) {
		t.Fatalf("signature/publickey not preserved")
	}
	var wrapper TxPayloadMsg
	if err := DecodePayload(got.Payload, &wrapper); err != nil {
		t.Fatalf("decode tx: %v", err)
	}
	if wrapper.Tx.Hash() != tx.Hash() {
		t.Fatalf("tx hash mismatch after round trip")
	}
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Type: MessageType("not-a-real-type"), Payload: []byte("x")}
	// WriteMessage does not validate the tag, so it frames an unknown type
	// that ReadMessage must then reject.
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected ErrUnknownMessageType")
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	big := make([]byte, MaxBlockSize+1)
	msg := Message{Type: MsgBlock, Payload: big, Signature: []byte{}, PublicKey: []byte{}}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err == nil {
		t.Fatal("expected ErrOversizedFrame on write")
	}
}

func TestTransactionHashIgnoresProofsAndSignature(t *testing.T) {
	base := TransactionPayload{
		Version:     1,
		ConciliumID: 3,
		Ins:         []TxIn{{TxHash: Hash{9}, NTxOutput: 1}},
		Outs:        []TxOut{{Amount: 50, ReceiverAddr: Address{8}}},
	}
	a := Transaction{Payload: base, ClaimProofs: [][]byte{{1, 2, 3}}}
	b := Transaction{Payload: base, ClaimProofs: [][]byte{{9, 9, 9}, {8, 8}}, TxSignature: []byte{0xFF}}
	if a.Hash() != b.Hash() {
		t.Fatal("expected hash to ignore claim proofs and tx signature")
	}
}

func TestBlockHashIgnoresBody(t *testing.T) {
	header := BlockHeader{ConciliumID: 1, Height: 10, Timestamp: 42}
	a := Block{Header: header, Txns: nil}
	b := Block{Header: header, Txns: []Transaction{{Payload: TransactionPayload{Version: 9}}}}
	if a.Hash() != b.Hash() {
		t.Fatal("expected block hash to ignore transaction body")
	}
}
