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

// Package daflow provides the data handling core for wrapping a global
// data-assimilation engine: access to tiled gridded-field restart files
// in classic NetCDF format, and in-place application of analysis
// increments to forecast backgrounds.
//
// The model grid is a cubed sphere partitioned into tiles, one file per
// tile per valid time. Orchestration of the external engine itself
// (staging, configuration rendering, execution, archival) lives in the
// subpackages of this module.
package daflow

// Version gives the daflow version number.
const Version = "0.4.1"
