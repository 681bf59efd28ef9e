// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"

	"github.com/poiesic/contractor/core"
)

// MarshalEntry serializes an IndexEntry to bytes.
func MarshalEntry(entry *core.IndexEntry) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: nil entry", ErrSerializationFailed)
	}
	buf := make([]byte, core.IndexEntryMUS.Size(*entry))
	core.IndexEntryMUS.Marshal(*entry, buf)
	return buf, nil
}

// UnmarshalEntry deserializes an IndexEntry from bytes.
func UnmarshalEntry(data []byte) (*core.IndexEntry, error) {
	entry, n, err := core.IndexEntryMUS.Unmarshal(data)
	if err = checkDecoded(data, n, err); err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarshalDocumentRecord serializes a DocumentRecord to bytes.
func MarshalDocumentRecord(rec *core.DocumentRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil document record", ErrSerializationFailed)
	}
	buf := make([]byte, core.DocumentRecordMUS.Size(*rec))
	core.DocumentRecordMUS.Marshal(*rec, buf)
	return buf, nil
}

// UnmarshalDocumentRecord deserializes a DocumentRecord from bytes.
func UnmarshalDocumentRecord(data []byte) (*core.DocumentRecord, error) {
	rec, n, err := core.DocumentRecordMUS.Unmarshal(data)
	if err = checkDecoded(data, n, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

// checkDecoded rejects decode errors and values that do not span all of data.
func checkDecoded(data []byte, n int, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	return nil
}
