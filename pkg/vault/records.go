package vault

// Record collection algorithms. A collection keeps its non-empty records in
// strictly ascending expiry order with at most one record per distinct
// expiry; empty slots are reclaimed by pruning. Mutating operations prune
// before inserting, so insertRecord may assume empty slots sit after every
// non-empty record.

// sumActiveRecords returns the spendable balance at nowUnix.
func sumActiveRecords(records []BalanceRecord, nowUnix int64) (Amount, error) {
	var total int64
	for _, record := range records {
		if record.IsEmpty() || record.Expired(nowUnix) {
			continue
		}
		sum, err := addInt64(total, record.Amount.Int64())
		if err != nil {
			return 0, err
		}
		total = sum
	}
	return Amount(total), nil
}

// insertRecord places amount under expiresAtUnix: merged into the record
// sharing the expiry, written into the first free slot, or spliced in front
// of the first later record.
func insertRecord(records []BalanceRecord, amount Amount, expiresAtUnix int64) ([]BalanceRecord, error) {
	for index := range records {
		record := records[index]
		if record.IsEmpty() {
			records[index] = BalanceRecord{Amount: amount, ExpiresAtUnix: expiresAtUnix}
			return records, nil
		}
		if record.ExpiresAtUnix == expiresAtUnix {
			merged, err := addAmount(record.Amount, amount)
			if err != nil {
				return nil, err
			}
			records[index].Amount = merged
			return records, nil
		}
		if record.ExpiresAtUnix > expiresAtUnix {
			records = append(records, BalanceRecord{})
			copy(records[index+1:], records[index:])
			records[index] = BalanceRecord{Amount: amount, ExpiresAtUnix: expiresAtUnix}
			return records, nil
		}
	}
	return append(records, BalanceRecord{Amount: amount, ExpiresAtUnix: expiresAtUnix}), nil
}

// pruneRecords compacts live records to the front, zeroes the tail, and
// returns the total amount that expired. The slice shrinks when it is empty
// of live records or mostly slack per the compaction policy.
func pruneRecords(records []BalanceRecord, nowUnix int64, policy CompactionPolicy) ([]BalanceRecord, Amount, error) {
	oldLength := len(records)
	writeCursor := 0
	var expiredTotal int64
	for index := 0; index < oldLength; index++ {
		record := records[index]
		if record.IsEmpty() {
			continue
		}
		if record.Expired(nowUnix) {
			total, err := addInt64(expiredTotal, record.Amount.Int64())
			if err != nil {
				return nil, 0, err
			}
			expiredTotal = total
			continue
		}
		records[writeCursor] = record
		writeCursor++
	}
	for index := writeCursor; index < oldLength; index++ {
		records[index] = BalanceRecord{}
	}
	if writeCursor == 0 {
		records = records[:0]
	} else if oldLength > policy.ShrinkFactor*writeCursor && oldLength > policy.ShrinkMinLength {
		records = records[:writeCursor]
	}
	return records, Amount(expiredTotal), nil
}

// deductRecords consumes amount oldest-first. Fully drained records become
// empty slots for the next prune; a partially drained record keeps its
// expiry. On a shortfall the collection is untouched and the available
// balance is returned alongside ErrInsufficientBalance.
func deductRecords(records []BalanceRecord, amount Amount, nowUnix int64) ([]BalanceRecord, Amount, error) {
	available, err := sumActiveRecords(records, nowUnix)
	if err != nil {
		return nil, 0, err
	}
	if available < amount {
		return nil, available, ErrInsufficientBalance
	}
	remaining := amount
	for index := range records {
		if remaining == 0 {
			break
		}
		record := records[index]
		if record.IsEmpty() || record.Expired(nowUnix) {
			continue
		}
		consumed := record.Amount
		if consumed > remaining {
			consumed = remaining
		}
		records[index].Amount -= consumed
		remaining -= consumed
	}
	return records, available, nil
}

// transferRecords drains amount from source oldest-first and inserts every
// consumed tranche into destination under its original expiry, so moved
// value keeps its remaining lifetime. On a shortfall neither slice is
// meaningful; callers must discard both.
func transferRecords(source []BalanceRecord, destination []BalanceRecord, amount Amount, nowUnix int64) ([]BalanceRecord, []BalanceRecord, Amount, error) {
	available, err := sumActiveRecords(source, nowUnix)
	if err != nil {
		return nil, nil, 0, err
	}
	if available < amount {
		return nil, nil, available, ErrInsufficientBalance
	}
	remaining := amount
	for index := range source {
		if remaining == 0 {
			break
		}
		record := source[index]
		if record.IsEmpty() || record.Expired(nowUnix) {
			continue
		}
		consumed := record.Amount
		if consumed > remaining {
			consumed = remaining
		}
		source[index].Amount -= consumed
		destination, err = insertRecord(destination, consumed, record.ExpiresAtUnix)
		if err != nil {
			return nil, nil, 0, err
		}
		remaining -= consumed
	}
	return source, destination, available, nil
}
