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


// Package ai provides abstractions for the AI services tonerag depends on.
//
// Two capabilities are consumed: text embeddings (Embedder) for indexing and
// retrieval, and chat completions (Completer) for generating rephrasings.
// AIProvider bundles both so they share configuration and lifecycle.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/mock: deterministic test doubles with no network access
//
// Public constructors in ai/openai return interface types. Mock constructors
// return concrete types so tests can inject behaviour and read call counts.
//
// # Error Classification
//
// IsTransient decides which provider failures are worth retrying. Rate
// limits, provider outages, and timeouts are transient; authentication
// failures, malformed requests, and ErrEmptyCompletion are not.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithAPIToken(os.Getenv("OPENAI_API_KEY")))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "오늘 많이 힘들었어")
//	reply, err := provider.Completer().Complete(ctx, prompt)
package ai
