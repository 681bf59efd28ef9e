package badger

const bucketSeparator = ':'

// bucketPrefix returns the key prefix shared by every key in bucket.
// Format: bucket:
func bucketPrefix(bucket string) []byte {
	buf := make([]byte, 0, len(bucket)+1)
	buf = append(buf, bucket...)
	return append(buf, bucketSeparator)
}

// makeKey generates the badger key for key in bucket.
// Format: bucket:key
func makeKey(bucket string, key []byte) []byte {
	buf := make([]byte, 0, len(bucket)+1+len(key))
	buf = append(buf, bucket...)
	buf = append(buf, bucketSeparator)
	return append(buf, key...)
}
