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

// Package retrieval answers natural language queries against the vector index.
//
// The Retriever embeds the query text, searches the index and returns the
// best chunks with scores normalised to [0,1]:
//   - cosine similarity s maps to (s+1)/2
//   - inner product s maps to 1/(1+e^-s)
//
// Distance is 1 - score. Hits can be expanded with neighbouring chunks of
// the same document so callers get surrounding clause text.
//
// An index without live entries yields core.ErrEmptyIndex; an index whose
// entries are all excluded by the filter or score threshold yields
// core.ErrNoMatch.
package retrieval
