// Package domain models Multi-Radar/Multi-Sensor (MRMS) mosaic reflectivity
// data as it moves from a remote archive into the chunked store.
//
// # Data Sources
//
// Mosaic products are published by NCEP at https://mrms.ncep.noaa.gov/data/
// as Apache-style directory listings, one sub-listing per product level
// (e.g. "MergedReflectivityQC_00.50/"). The same files are mirrored to the
// public "noaa-mrms-pds" S3 bucket. Historical hourly archives are zip
// containers whose members are individually gzipped.
//
// # Naming Conventions
//
// Valid times are embedded in file names as YYYYMMDD-HHMMSS, always UTC:
//
//	MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2.gz
//	                                ^^^^^^^^^^^^^^^
//
// The product token ("MergedReflectivityQC") is a substring of both the
// listing entry and the file name. Level suffixes ("_00.50") are heights in
// kilometers and do not participate in grouping.
//
// # Formats
//
// Four incompatible encodings exist:
//
//	LegacyBinary   packed big/little-endian records with scaled integers.
//	               Recognized but not decoded (see [ErrUnsupportedFormat]).
//	ArrayV1        NetCDF, variable "mrefl_mosaic". Grid reconstructed from
//	               start lat/lon and spacing; latitude DECREASES with row.
//	               Values divided by the per-file "Scale" attribute.
//	               Nominal duration 300 s.
//	ArrayV2        NetCDF, variable "MREFL" with explicit "Lat", "Lon", "Ht".
//	               Values used as stored. Nominal duration 120 s.
//	GriddedBinary  GRIB2, one level per file. Files for one valid time are
//	               concatenated along the height axis.
//
// v1 files were produced until 2013-07-30 ~16 UTC ([V1ToV2Changeover]).
//
// # Units
//
// Heights are kilometers above mean sea level (meters / [AltitudeScaleFactor]).
// Reflectivity is dBZ as float32; missing or masked cells are NaN.
//
// # Group Keys
//
// A committed group is identified by product name, valid time and a digest of
// its height levels. See [Dataset.Key]. Keys are committed at most once.
package domain
