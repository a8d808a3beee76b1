// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"testing"
)

func TestSymbols(t *testing.T) {
	src := `
pub mod net {
    pub struct Conn(u16);
    impl Conn {
        pub async fn open<'a>(&self, host: &'a str) -> Conn { todo!() }
    }
    pub mod tls { pub const VERSION: u8 = 3; }
}
pub trait Dial: Send { fn dial(&self); }
pub enum State { Idle, Busy(u32), Done { code: i32 } }
static mut COUNTER: u64 = 0;
#[macro_export]
macro_rules! log { () => {}; ($e:expr) => {}; }
type Alias<T> = Vec<T>;
`
	syms := Symbols(buildSource(t, src).Graph)

	bySig := make(map[string]Symbol)
	for _, s := range syms {
		bySig[s.QualifiedName+"|"+string(s.Kind)] = s
	}

	want := map[string]string{
		"net|module":              "pub mod net",
		"net::tls|module":         "pub mod net::tls",
		"net::Conn|struct":        "pub struct net::Conn(u16)",
		"net::Conn::open|method":  "pub async fn net::Conn::open<'a>(&Self, host: &'a str) -> Conn",
		"net::tls::VERSION|const": "pub const net::tls::VERSION: u8",
		"Dial|trait":              "pub trait Dial: Send",
		"Dial::dial|method":       "pub fn Dial::dial(&Self)",
		"State|enum":              "pub enum State { Idle, Busy(u32), Done { code: i32 } }",
		"COUNTER|static":          "static mut COUNTER: u64",
		"log|macro":               "pub macro log (2 rules)",
		"Alias|type_alias":        "type Alias<T> = Vec<T>",
		"net::impl Conn|impl":     "impl Conn",
	}
	for key, sig := range want {
		s, ok := bySig[key]
		if !ok {
			t.Errorf("missing symbol %s", key)
			continue
		}
		if s.Signature != sig {
			t.Errorf("%s: signature %q, want %q", key, s.Signature, sig)
		}
	}

	for i := 1; i < len(syms); i++ {
		if syms[i-1].QualifiedName > syms[i].QualifiedName {
			t.Fatalf("symbols not sorted at %d: %s > %s", i, syms[i-1].QualifiedName, syms[i].QualifiedName)
		}
	}
	for _, s := range syms {
		if s.Name == RootModuleName && s.Kind == SymbolModule {
			t.Error("root module should not be listed")
		}
	}
}

func TestSymbols_Nil(t *testing.T) {
	if Symbols(nil) != nil {
		t.Error("expected nil")
	}
}
