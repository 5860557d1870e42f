/*
Copyright © 2025 the daflow authors.
This file is part of daflow.

daflow is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

daflow is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with daflow.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command daflow is the command-line interface for the analysis task
// orchestration toolkit.
package main

import (
	"fmt"
	"os"

	"github.com/nwpmodel/daflow/daflowutil"
)

func main() {
	if err := daflowutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
