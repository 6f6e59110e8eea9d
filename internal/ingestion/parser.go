package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veilperp/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw events before sending anything to the deterministic engine.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "PriceProofUpdate":
		return parsePriceProofUpdate(raw.Data)
	case "OpenPosition":
		return parseOpenPosition(raw.Data)
	case "CreateLimitOrder":
		return parseCreateLimitOrder(raw.Data)
	case "CancelOrder":
		return parseCancelOrder(raw.Data)
	case "ExecuteOrder":
		return parseExecuteOrder(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "SetStopLoss":
		return parseSetStopLoss(raw.Data)
	case "DirectionResolved":
		return parseDirectionResolved(raw.Data)
	case "InstrumentUpdate":
		return parseInstrumentUpdate(raw.Data)
	case "FeeParamUpdate":
		return parseFeeParamUpdate(raw.Data)
	case "PauseUpdate":
		return parsePauseUpdate(raw.Data)
	case "OwnershipTransfer":
		return parseOwnershipTransfer(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Byte fields
// (ciphertexts, commitments, proofs, keys) are standard base64 via
// encoding/json's []byte handling.

type cipherPayloadJSON struct {
	Ciphertext []byte `json:"ciphertext"`
	Commitment []byte `json:"commitment"`
	Proof      []byte `json:"proof"`
}

func (c cipherPayloadJSON) toEvent() event.CipherPayload {
	return event.CipherPayload{
		Ciphertext: c.Ciphertext,
		Commitment: c.Commitment,
		Proof:      c.Proof,
	}
}

type priceUpdateJSON struct {
	Instrument     string `json:"instrument"`
	Price          int64  `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp_us"`
	Caller         string `json:"caller"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.PriceUpdate{
		InstrumentKey:  j.Instrument,
		Price:          j.Price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
		Caller:         caller,
	}, nil
}

type priceProofUpdateJSON struct {
	Instrument     string `json:"instrument"`
	Price          int64  `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp_us"`
	FeedID         int32  `json:"feed_id"`
	Signature      []byte `json:"signature"`
}

func parsePriceProofUpdate(data []byte) (*event.PriceProofUpdate, error) {
	var j priceProofUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceProofUpdate: %w", err)
	}
	return &event.PriceProofUpdate{
		InstrumentKey:  j.Instrument,
		Price:          j.Price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
		FeedID:         j.FeedID,
		Signature:      j.Signature,
	}, nil
}

type openPositionJSON struct {
	PositionID   string             `json:"position_id"`
	Trader       string             `json:"trader"`
	Instrument   string             `json:"instrument"`
	Collateral   int64              `json:"collateral"`
	Leverage     int64              `json:"leverage"`
	Direction    cipherPayloadJSON  `json:"direction"`
	StopLoss     *cipherPayloadJSON `json:"stop_loss,omitempty"`
	SubmitterKey []byte             `json:"submitter_key"`
	CmdSequence  int64              `json:"cmd_sequence"`
	TimestampUs  int64              `json:"timestamp_us"`
}

func parseOpenPosition(data []byte) (*event.OpenPosition, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return nil, fmt.Errorf("parse trader: %w", err)
	}

	evt := &event.OpenPosition{
		PositionID:    positionID,
		Trader:        trader,
		InstrumentKey: j.Instrument,
		Collateral:    j.Collateral,
		Leverage:      j.Leverage,
		Direction:     j.Direction.toEvent(),
		SubmitterKey:  j.SubmitterKey,
		CmdSequence:   j.CmdSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}
	if j.StopLoss != nil {
		sl := j.StopLoss.toEvent()
		evt.StopLoss = &sl
	}
	return evt, nil
}

type createLimitOrderJSON struct {
	OrderID      string            `json:"order_id"`
	Trader       string            `json:"trader"`
	Instrument   string            `json:"instrument"`
	Collateral   int64             `json:"collateral"`
	Leverage     int64             `json:"leverage"`
	LimitPrice   int64             `json:"limit_price"`
	ExpiresAtUs  int64             `json:"expires_at_us,omitempty"`
	Direction    cipherPayloadJSON `json:"direction"`
	SubmitterKey []byte            `json:"submitter_key"`
	CmdSequence  int64             `json:"cmd_sequence"`
	TimestampUs  int64             `json:"timestamp_us"`
}

func parseCreateLimitOrder(data []byte) (*event.CreateLimitOrder, error) {
	var j createLimitOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateLimitOrder: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return nil, fmt.Errorf("parse trader: %w", err)
	}
	return &event.CreateLimitOrder{
		OrderID:       orderID,
		Trader:        trader,
		InstrumentKey: j.Instrument,
		Collateral:    j.Collateral,
		Leverage:      j.Leverage,
		LimitPrice:    j.LimitPrice,
		ExpiresAt:     j.ExpiresAtUs,
		Direction:     j.Direction.toEvent(),
		SubmitterKey:  j.SubmitterKey,
		CmdSequence:   j.CmdSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type orderActionJSON struct {
	RequestID   string `json:"request_id"`
	OrderID     string `json:"order_id"`
	Caller      string `json:"caller,omitempty"`
	Keeper      string `json:"keeper,omitempty"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCancelOrder(data []byte) (*event.CancelOrder, error) {
	var j orderActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelOrder: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.CancelOrder{
		RequestID:   requestID,
		OrderID:     orderID,
		Caller:      caller,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseExecuteOrder(data []byte) (*event.ExecuteOrder, error) {
	var j orderActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExecuteOrder: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}
	keeper, err := uuid.Parse(j.Keeper)
	if err != nil {
		return nil, fmt.Errorf("parse keeper: %w", err)
	}
	return &event.ExecuteOrder{
		RequestID:   requestID,
		OrderID:     orderID,
		Keeper:      keeper,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type positionActionJSON struct {
	RequestID   string `json:"request_id"`
	PositionID  string `json:"position_id"`
	Caller      string `json:"caller,omitempty"`
	Keeper      string `json:"keeper,omitempty"`
	Direction   string `json:"direction,omitempty"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseClosePosition(data []byte) (*event.ClosePosition, error) {
	var j positionActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	direction, err := event.SideFromString(j.Direction)
	if err != nil {
		return nil, fmt.Errorf("parse direction: %w", err)
	}
	return &event.ClosePosition{
		RequestID:   requestID,
		PositionID:  positionID,
		Caller:      caller,
		Direction:   direction,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j positionActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	keeper, err := uuid.Parse(j.Keeper)
	if err != nil {
		return nil, fmt.Errorf("parse keeper: %w", err)
	}
	return &event.Liquidate{
		RequestID:   requestID,
		PositionID:  positionID,
		Keeper:      keeper,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type setStopLossJSON struct {
	RequestID    string            `json:"request_id"`
	PositionID   string            `json:"position_id"`
	Caller       string            `json:"caller"`
	StopLoss     cipherPayloadJSON `json:"stop_loss"`
	SubmitterKey []byte            `json:"submitter_key"`
	CmdSequence  int64             `json:"cmd_sequence"`
	TimestampUs  int64             `json:"timestamp_us"`
}

func parseSetStopLoss(data []byte) (*event.SetStopLoss, error) {
	var j setStopLossJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetStopLoss: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.SetStopLoss{
		RequestID:    requestID,
		PositionID:   positionID,
		Caller:       caller,
		StopLoss:     j.StopLoss.toEvent(),
		SubmitterKey: j.SubmitterKey,
		CmdSequence:  j.CmdSequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type directionResolvedJSON struct {
	RequestID        string `json:"request_id"`
	HandleID         string `json:"handle_id"`
	Plaintext        []byte `json:"plaintext"`
	Nonce            []byte `json:"nonce"`
	ResolverSequence int64  `json:"resolver_sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseDirectionResolved(data []byte) (*event.DirectionResolved, error) {
	var j directionResolvedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DirectionResolved: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	handleID, err := uuid.Parse(j.HandleID)
	if err != nil {
		return nil, fmt.Errorf("parse handle_id: %w", err)
	}
	return &event.DirectionResolved{
		RequestID:        requestID,
		HandleID:         handleID,
		Plaintext:        j.Plaintext,
		Nonce:            j.Nonce,
		ResolverSequence: j.ResolverSequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type instrumentUpdateJSON struct {
	RequestID          string `json:"request_id"`
	Caller             string `json:"caller"`
	Instrument         string `json:"instrument"`
	Active             bool   `json:"active"`
	MaxLeverage        int64  `json:"max_leverage"`
	MaxDeviationBP     int64  `json:"max_deviation_bp"`
	MaxStalenessMicros int64  `json:"max_staleness_us"`
	MaxOpenInterest    int64  `json:"max_open_interest"`
	MinCollateral      int64  `json:"min_collateral"`
	MaxCollateral      int64  `json:"max_collateral"`
	OpenFeeBP          int64  `json:"open_fee_bp"`
	CloseFeeBP         int64  `json:"close_fee_bp"`
	CmdSequence        int64  `json:"cmd_sequence"`
	TimestampUs        int64  `json:"timestamp_us"`
}

func parseInstrumentUpdate(data []byte) (*event.InstrumentUpdate, error) {
	var j instrumentUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InstrumentUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.InstrumentUpdate{
		RequestID:          requestID,
		Caller:             caller,
		InstrumentKey:      j.Instrument,
		Active:             j.Active,
		MaxLeverage:        j.MaxLeverage,
		MaxDeviationBP:     j.MaxDeviationBP,
		MaxStalenessMicros: j.MaxStalenessMicros,
		MaxOpenInterest:    j.MaxOpenInterest,
		MinCollateral:      j.MinCollateral,
		MaxCollateral:      j.MaxCollateral,
		OpenFeeBP:          j.OpenFeeBP,
		CloseFeeBP:         j.CloseFeeBP,
		CmdSequence:        j.CmdSequence,
		Timestamp:          time.UnixMicro(j.TimestampUs),
	}, nil
}

type feeParamUpdateJSON struct {
	RequestID           string `json:"request_id"`
	Caller              string `json:"caller"`
	MaintenanceMarginBP int64  `json:"maintenance_margin_bp"`
	LiquidationBonusBP  int64  `json:"liquidation_bonus_bp"`
	CmdSequence         int64  `json:"cmd_sequence"`
	TimestampUs         int64  `json:"timestamp_us"`
}

func parseFeeParamUpdate(data []byte) (*event.FeeParamUpdate, error) {
	var j feeParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeParamUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.FeeParamUpdate{
		RequestID:           requestID,
		Caller:              caller,
		MaintenanceMarginBP: j.MaintenanceMarginBP,
		LiquidationBonusBP:  j.LiquidationBonusBP,
		CmdSequence:         j.CmdSequence,
		Timestamp:           time.UnixMicro(j.TimestampUs),
	}, nil
}

type pauseUpdateJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Paused      bool   `json:"paused"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePauseUpdate(data []byte) (*event.PauseUpdate, error) {
	var j pauseUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.PauseUpdate{
		RequestID:   requestID,
		Caller:      caller,
		Paused:      j.Paused,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type ownershipTransferJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	NewOwner    string `json:"new_owner"`
	CmdSequence int64  `json:"cmd_sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOwnershipTransfer(data []byte) (*event.OwnershipTransfer, error) {
	var j ownershipTransferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OwnershipTransfer: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	newOwner, err := uuid.Parse(j.NewOwner)
	if err != nil {
		return nil, fmt.Errorf("parse new_owner: %w", err)
	}
	return &event.OwnershipTransfer{
		RequestID:   requestID,
		Caller:      caller,
		NewOwner:    newOwner,
		CmdSequence: j.CmdSequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}
