// Copyright 2024 The Cockroach Authors
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

package probing_test

import (
	"fmt"
	"os"

	"github.com/cockroachdb/probing"
)

func Example() {
	ht, err := probing.New(probing.DefaultCapacity)
	if err != nil {
		panic(err)
	}

	ht.Insert("world", 3)
	ht.Insert("hello", 2)

	fmt.Println(ht.Len())
	fmt.Println(ht.Cap())
	// Output:
	// 2
	// 8
}

func ExampleTable_WriteTo() {
	homes := map[string]uint64{"James": 5, "Juliet": 2, "Hugo": 11}
	ht, err := probing.New(16, probing.WithHash(func(key string) uint64 {
		return homes[key]
	}))
	if err != nil {
		panic(err)
	}

	ht.Insert("James", 4815)
	ht.Insert("Juliet", 1623)
	ht.Insert("Hugo", 42108)

	if _, err := ht.WriteTo(os.Stdout); err != nil {
		panic(err)
	}
	// Output:
	// Bucket 2: <Juliet, 1623>
	// Bucket 5: <James, 4815>
	// Bucket 11: <Hugo, 42108>
}

func ExampleTable_At() {
	ht, err := probing.New(probing.DefaultCapacity)
	if err != nil {
		panic(err)
	}

	ht.Insert("James", 4815)
	*ht.At("James") = 1234

	v, ok := ht.Get("James")
	fmt.Println(v, ok)
	_, err = ht.Ref("Kate")
	fmt.Println(err)
	// Output:
	// 1234 true
	// key "Kate": key not found
}
