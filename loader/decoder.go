package loader

import (
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

type row map[string]any

// accountDecoder turns pgoutput messages of one table into directory events.
type accountDecoder struct {
	table     string
	relations map[uint32]*pglogrepl.RelationMessageV2
	typeMap   *pgtype.Map
	inStream  bool
}

func newAccountDecoder(table string) *accountDecoder {
	return &accountDecoder{
		table:     table,
		relations: make(map[uint32]*pglogrepl.RelationMessageV2),
		typeMap:   pgtype.NewMap(),
	}
}

func (d *accountDecoder) decode(walData []byte) ([]balances.AccountEvent, error) {
	msg, err := pglogrepl.ParseV2(walData, d.inStream)
	if err != nil {
		return nil, fmt.Errorf("parse logical replication message: %w", err)
	}

	switch m := msg.(type) {
	case *pglogrepl.RelationMessageV2:
		d.relations[m.RelationID] = m
	case *pglogrepl.StreamStartMessageV2:
		d.inStream = true
	case *pglogrepl.StreamStopMessageV2:
		d.inStream = false
	case *pglogrepl.InsertMessageV2:
		newRow, err := d.tuple(m.RelationID, m.Tuple)
		if err != nil || newRow == nil {
			return nil, err
		}
		return changeEvents(nil, newRow), nil
	case *pglogrepl.UpdateMessageV2:
		newRow, err := d.tuple(m.RelationID, m.NewTuple)
		if err != nil || newRow == nil {
			return nil, err
		}
		oldRow, err := d.tuple(m.RelationID, m.OldTuple)
		if err != nil {
			return nil, err
		}
		return changeEvents(oldRow, newRow), nil
	case *pglogrepl.DeleteMessageV2:
		oldRow, err := d.tuple(m.RelationID, m.OldTuple)
		if err != nil || oldRow == nil {
			return nil, err
		}
		return changeEvents(oldRow, nil), nil
	}
	return nil, nil
}

// tuple returns nil for rows of other tables.
func (d *accountDecoder) tuple(relationID uint32, tuple *pglogrepl.TupleData) (row, error) {
	rel, ok := d.relations[relationID]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID %d", relationID)
	}
	if rel.Namespace+"."+rel.RelationName != d.table || tuple == nil {
		return nil, nil
	}

	values := make(row, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		if idx >= len(rel.Columns) {
			break
		}
		name := rel.Columns[idx].Name
		switch col.DataType {
		case 'n':
			values[name] = nil
		case 't':
			oid := rel.Columns[idx].DataType
			if dt, ok := d.typeMap.TypeForOID(oid); ok {
				v, err := dt.Codec.DecodeValue(d.typeMap, oid, pgtype.TextFormatCode, col.Data)
				if err != nil {
					return nil, fmt.Errorf("decode column %s: %w", name, err)
				}
				values[name] = v
			} else {
				values[name] = string(col.Data)
			}
		}
	}
	return values, nil
}

// changeEvents maps a row transition to directory events. A changed primary
// key removes the old address before adding the new one.
func changeEvents(oldRow, newRow row) []balances.AccountEvent {
	var events []balances.AccountEvent
	if oldRow != nil {
		old := accountFromRow(oldRow)
		if newRow == nil || old.Address != accountFromRow(newRow).Address {
			if old.Address != "" {
				events = append(events, balances.AccountEvent{Type: balances.AccountRemoved, Account: old})
			}
		}
	}
	if newRow != nil {
		if a := accountFromRow(newRow); a.Address != "" {
			events = append(events, balances.AccountEvent{Type: balances.AccountAdded, Account: a})
		}
	}
	return events
}

func accountFromRow(r row) balances.Account {
	var a balances.Account
	a.Address, _ = r["address"].(string)
	a.Hardware, _ = r["hardware"].(bool)
	a.Generic, _ = r["generic"].(bool)

	switch hashes := r["genesis_hashes"].(type) {
	case []string:
		a.GenesisHashes = hashes
	case []any:
		for _, h := range hashes {
			if s, ok := h.(string); ok {
				a.GenesisHashes = append(a.GenesisHashes, s)
			}
		}
	}
	return a
}
