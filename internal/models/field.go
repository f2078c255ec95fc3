package models

import (
	"math"

	"github.com/go-gota/gota/dataframe"
)

// CropTypes is the closed set of crop names allowed in a processed field table.
var CropTypes = []string{"cassava", "tea", "wheat", "potato", "banana", "coffee", "rice", "maize"}

// FieldColumns is the column layout of a processed field table.
var FieldColumns = []string{
	"Field_ID", "Elevation", "Latitude", "Longitude", "Location", "Slope",
	"Rainfall", "Min_temperature_C", "Max_temperature_C", "Ave_temps",
	"Soil_fertility", "Soil_type", "pH", "Pollution_level", "Plot_size",
	"Annual_yield", "Crop_type", "Standard_yield", "Weather_station",
}

// HasColumn reports whether df has a column called name.
func HasColumn(df dataframe.DataFrame, name string) bool {
	return hasColumn(df, name)
}

// RowsFromTable turns a table into JSON-safe rows. Missing values
// (NaN floats, NA elements) become nil.
func RowsFromTable(df dataframe.DataFrame) []map[string]interface{} {
	names := df.Names()
	rows := make([]map[string]interface{}, df.Nrow())
	for i := range rows {
		rows[i] = make(map[string]interface{}, len(names))
	}

	for _, name := range names {
		col := df.Col(name)
		for i := 0; i < col.Len(); i++ {
			elem := col.Elem(i)
			if elem.IsNA() {
				rows[i][name] = nil
				continue
			}
			v := elem.Val()
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				v = nil
			}
			rows[i][name] = v
		}
	}
	return rows
}
