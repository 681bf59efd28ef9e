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

package badger

import "github.com/poiesic/contractor/storage"

// NewMemoryBackend opens an in-memory backend for testing.
func NewMemoryBackend() (*Backend, error) {
	return OpenBackend("", true)
}

// NewMemoryStores creates an index and document store over one in-memory backend.
// Caller must close the backend when done.
func NewMemoryStores(opts ...storage.IndexOption) (*storage.Index, *storage.DocumentStore, *Backend, error) {
	backend, err := NewMemoryBackend()
	if err != nil {
		return nil, nil, nil, err
	}

	index, err := storage.OpenIndex(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}

	docs, err := storage.NewDocumentStore(backend)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}

	return index, docs, backend, nil
}
